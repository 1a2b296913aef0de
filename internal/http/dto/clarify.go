package dto

type SuggestClarificationsRequest struct {
	Agenda    string   `json:"agenda" binding:"required,min=1"`
	Questions []string `json:"questions,omitempty"`
	Rules     []string `json:"rules,omitempty"`
}

type SuggestClarificationsResponse struct {
	Questions []string `json:"questions"`
}
