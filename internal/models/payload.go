package models

// Payload is the flat lead submission sent to the lead-delivery endpoint.
// Field names are a naming contract with the delivery collaborator.
type Payload struct {
	CID         string `json:"cid"`
	SID         string `json:"sid"`
	Gender      string `json:"gender"`
	FirstName   string `json:"firstname"`
	LastName    string `json:"lastname"`
	Email       string `json:"email"`
	Postcode    string `json:"postcode"`
	Street      string `json:"straat"`
	HouseNumber string `json:"huisnummer"`
	City        string `json:"woonplaats"`
	Phone       string `json:"telefoon"`
	DOB         string `json:"dob"`

	TrackingID string `json:"t_id"`
	AffID      string `json:"aff_id"`
	OfferID    string `json:"offer_id"`
	SubID      string `json:"sub_id"`
	Sub2       string `json:"sub2"`

	CampaignURL string `json:"f_1453_campagne_url"`
	IPAddress   string `json:"f_17_ipaddress"`
	OptInDate   string `json:"f_55_optindate"`
	IsShortForm bool   `json:"is_shortform"`

	CoregAnswer    string `json:"f_2014_coreg_answer,omitempty"`
	DropdownAnswer string `json:"f_2575_coreg_answer_dropdown,omitempty"`
}

// Destination returns the payload's delivery destination.
func (p Payload) Destination() Destination {
	return Destination{CID: p.CID, SID: p.SID}
}

// Profile holds the visitor fields captured by the short form.
type Profile struct {
	Gender    string `json:"gender"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Email     string `json:"email"`
	DOB       string `json:"dob"` // dd/mm/yyyy as typed by the visitor
}

// Address holds the fields captured by the long form.
type Address struct {
	Postcode    string `json:"postcode"`
	Street      string `json:"straat"`
	HouseNumber string `json:"huisnummer"`
	City        string `json:"woonplaats"`
	Phone       string `json:"telefoon"`
}

// Tracking holds the affiliate tracking identifiers captured from the landing URL.
type Tracking struct {
	TrackingID string `json:"t_id"`
	AffID      string `json:"aff_id"`
	OfferID    string `json:"offer_id"`
	SubID      string `json:"sub_id"`
	Sub2       string `json:"sub2"`
}
