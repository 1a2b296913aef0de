package model

// AgentPersona is a data record describing one panel member. Behavior is
// selected by Role at prompt-rendering time, not by subtyping.
type AgentPersona struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Expertise string       `json:"expertise"`
	Goal      string       `json:"goal"`
	Role      Role         `json:"role"`
	Model     ModelProfile `json:"model"`
}

// Role determines a persona's duties during deliberation.
type Role string

const (
	RoleLeader     Role = "leader"
	RoleSpecialist Role = "specialist"
)

// ModelProfile names the completion model backing a persona.
type ModelProfile struct {
	Name string    `json:"name"`
	Tier ModelTier `json:"tier"`
}

// ModelTier selects between the full and the cheap completion model.
// Fast mode forces every profile to light.
type ModelTier string

const (
	TierStandard ModelTier = "standard"
	TierLight    ModelTier = "light"
)

// TeamConfiguration is the panel roster. Specialist order is turn order
// within a round. Round count lives on RunConfig.
type TeamConfiguration struct {
	Leader      AgentPersona   `json:"leader"`
	Specialists []AgentPersona `json:"specialists"`
}

// Personas returns the leader followed by the specialists in turn order.
func (t TeamConfiguration) Personas() []AgentPersona {
	out := make([]AgentPersona, 0, len(t.Specialists)+1)
	out = append(out, t.Leader)
	out = append(out, t.Specialists...)
	return out
}

// Find returns the persona with the given ID, or false when absent.
func (t TeamConfiguration) Find(id string) (AgentPersona, bool) {
	for _, p := range t.Personas() {
		if p.ID == id {
			return p, true
		}
	}
	return AgentPersona{}, false
}
