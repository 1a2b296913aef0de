package model

// Case is the problem statement a panel deliberates on. Immutable once a
// run starts; Clarify answers produce a new Case rather than mutating it.
type Case struct {
	Agenda    string   `json:"agenda"`
	Questions []string `json:"questions,omitempty"`
	Rules     []string `json:"rules,omitempty"`
}

// QA is one clarifying question with its (possibly empty) answer.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
}

// ClarifyingExchange is the ordered list of clarifying Q&A pairs gathered
// before a run. Unanswered questions never block a run.
type ClarifyingExchange []QA

// Answered returns only the pairs that carry a non-empty answer.
func (ex ClarifyingExchange) Answered() []QA {
	var out []QA
	for _, qa := range ex {
		if qa.Answer != "" {
			out = append(out, qa)
		}
	}
	return out
}
