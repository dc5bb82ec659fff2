package models

// Section is one rendered step of the questionnaire: a single campaign, or one
// step of a multi-step campaign group.
type Section struct {
	Index    int      `json:"index"`
	GroupKey string   `json:"group_key"`
	Visible  bool     `json:"visible"`
	Campaign Campaign `json:"campaign"`
}
