package models

import "strings"

// Presentation styles for a coreg question.
const (
	StyleButtons  = "buttons"
	StyleDropdown = "dropdown"
)

// AnswerOption is one selectable answer of a coreg question. An option may
// route its lead to a different sponsor destination than the owning campaign.
type AnswerOption struct {
	Label  string `json:"label"`
	Value  string `json:"value"`
	OwnCID string `json:"own_cid,omitempty"` // Sponsor campaign id overriding the campaign's cid.
	OwnSID string `json:"own_sid,omitempty"` // Sponsor site id overriding the campaign's sid.
}

// HasOwnCampaign reports whether the option declares its own destination.
func (o AnswerOption) HasOwnCampaign() bool {
	return o.OwnCID != "" && o.OwnSID != ""
}

// Campaign is the canonical, normalized form of a coreg campaign record loaded
// from the CMS. It is immutable once the catalog has been loaded.
type Campaign struct {
	ID               string         `json:"id"`
	CID              string         `json:"cid"`   // Sponsor campaign identifier.
	SID              string         `json:"sid"`   // Sponsor site identifier.
	Order            int            `json:"order"` // Ascending display order.
	Style            string         `json:"style"` // StyleButtons or StyleDropdown.
	Answers          []AnswerOption `json:"answers"`
	HasMultiStep     bool           `json:"has_multi_step"`
	GroupKey         string         `json:"group_key"`
	StepIndex        int            `json:"step_index"`
	RequiresLongForm bool           `json:"requires_long_form"`
	IsShortformCoreg bool           `json:"is_shortform_coreg"`
	IsFinalStep      bool           `json:"is_final_step"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	ImageURL         string         `json:"image_url,omitempty"`
	MoreInfo         string         `json:"more_info,omitempty"`
}

// IsDropdown reports whether the campaign renders as a dropdown.
func (c Campaign) IsDropdown() bool {
	return strings.EqualFold(c.Style, StyleDropdown)
}

// Option returns the answer option carrying value, if any.
func (c Campaign) Option(value string) (AnswerOption, bool) {
	for _, o := range c.Answers {
		if o.Value == value {
			return o, true
		}
	}
	return AnswerOption{}, false
}

// Destination identifies where a lead is delivered.
type Destination struct {
	CID string `json:"cid"`
	SID string `json:"sid"`
}

// Key returns the dedup key for the destination.
func (d Destination) Key() string {
	return d.CID + ":" + d.SID
}
