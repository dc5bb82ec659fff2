package models

import "time"

// Call statuses of a PIN confirmation call.
const (
	CallStatusWaiting   = "waiting"
	CallStatusConfirmed = "confirmed"
)

// Visit is a registered landing-page visit.
type Visit struct {
	ID        int64     `json:"id"`
	ClickID   string    `json:"click_id"`
	AffID     string    `json:"aff_id"`
	OfferID   string    `json:"offer_id"`
	SubID     string    `json:"sub_id"`
	SubID2    string    `json:"sub_id_2"`
	IsMobile  bool      `json:"is_mobile"`
	Country   string    `json:"country,omitempty"`
	CreatedAt time.Time `json:"date_created"`
}

// Call is a phone confirmation issued for a visit and identified by its PIN.
type Call struct {
	ID        int64     `json:"id"`
	VisitID   int64     `json:"visit"`
	CallID    string    `json:"call_id,omitempty"`
	ClickID   string    `json:"click_id"`
	AffID     string    `json:"aff_id"`
	OfferID   string    `json:"offer_id"`
	SubID     string    `json:"sub_id"`
	SubID2    string    `json:"sub_id_2"`
	Pincode   string    `json:"pincode"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"date_created"`
}
