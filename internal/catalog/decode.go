package catalog

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/patrickwarner/coregflow/internal/models"
)

// placeholderImage is shown when a campaign carries no image.
const placeholderImage = "https://via.placeholder.com/600x200?text=Geen+afbeelding"

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexBool is true for JSON true or the string "true". Anything else,
// including malformed values, decodes as false.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		*f = false
		return nil
	}
	switch t := v.(type) {
	case bool:
		*f = flexBool(t)
	case string:
		*f = flexBool(strings.EqualFold(strings.TrimSpace(t), "true"))
	default:
		*f = false
	}
	return nil
}

// flexInt accepts a JSON number or numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(int(n))
	return nil
}

type rawImage struct {
	ID  flexString `json:"id"`
	URL string     `json:"url"`
}

type rawAnswer struct {
	Label          string     `json:"label"`
	AnswerValue    flexString `json:"answer_value"`
	HasOwnCampaign flexBool   `json:"has_own_campaign"`
	CID            flexString `json:"cid"`
	SID            flexString `json:"sid"`
}

// rawCampaign mirrors a CMS campaign record. The CMS has carried several
// spellings for the same flag over time; each alternative gets its own field.
type rawCampaign struct {
	ID          flexString  `json:"id"`
	CID         flexString  `json:"cid"`
	SID         flexString  `json:"sid"`
	Order       flexInt     `json:"order"`
	Step        flexInt     `json:"step"`
	UIStyle     string      `json:"ui_style"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	MoreInfo    string      `json:"more_info"`
	Image       *rawImage   `json:"image"`
	Answers     []rawAnswer `json:"coreg_answers"`

	HasCoregFlow flexBool `json:"has_coreg_flow"`
	HasMultiStep flexBool `json:"hasMultiStep"`

	RequiresLongForm      flexBool `json:"requiresLongForm"`
	RequiresLongFormSnake flexBool `json:"requires_long_form"`

	IsShortformCoreg      flexBool `json:"is_shortform_coreg"`
	IsShortformCoregCamel flexBool `json:"isShortformCoreg"`
}

// Decode turns raw CMS records into canonical campaigns. Records that cannot
// be decoded or carry no cid are dropped. Order and grouping are applied
// separately by Arrange.
func Decode(records []json.RawMessage, assetsURL string, logger *zap.Logger) []models.Campaign {
	if logger == nil {
		logger = zap.NewNop()
	}
	campaigns := make([]models.Campaign, 0, len(records))
	for i, rec := range records {
		var rc rawCampaign
		if err := json.Unmarshal(rec, &rc); err != nil {
			logger.Warn("skipping undecodable campaign", zap.Int("position", i), zap.Error(err))
			continue
		}
		if rc.CID == "" {
			logger.Warn("skipping campaign without cid", zap.Int("position", i), zap.String("id", string(rc.ID)))
			continue
		}
		campaigns = append(campaigns, rc.normalize(assetsURL))
	}
	return campaigns
}

func (rc rawCampaign) normalize(assetsURL string) models.Campaign {
	c := models.Campaign{
		ID:               string(rc.ID),
		CID:              string(rc.CID),
		SID:              string(rc.SID),
		Order:            int(rc.Order),
		StepIndex:        int(rc.Step),
		Style:            models.StyleButtons,
		HasMultiStep:     bool(rc.HasCoregFlow || rc.HasMultiStep),
		RequiresLongForm: bool(rc.RequiresLongForm || rc.RequiresLongFormSnake),
		IsShortformCoreg: bool(rc.IsShortformCoreg || rc.IsShortformCoregCamel),
		Title:            rc.Title,
		Description:      rc.Description,
		MoreInfo:         rc.MoreInfo,
		ImageURL:         imageURL(rc.Image, assetsURL),
	}
	if strings.EqualFold(strings.TrimSpace(rc.UIStyle), models.StyleDropdown) {
		c.Style = models.StyleDropdown
	}
	if c.ID == "" {
		c.ID = c.CID
	}
	if c.HasMultiStep {
		c.GroupKey = c.CID
	} else {
		c.GroupKey = "campaign:" + c.ID
	}
	for _, ra := range rc.Answers {
		opt := models.AnswerOption{Label: ra.Label, Value: string(ra.AnswerValue)}
		if opt.Value == "" {
			opt.Value = "yes"
		}
		if ra.HasOwnCampaign {
			opt.OwnCID = string(ra.CID)
			opt.OwnSID = string(ra.SID)
		}
		c.Answers = append(c.Answers, opt)
	}
	return c
}

func imageURL(img *rawImage, assetsURL string) string {
	switch {
	case img == nil:
		return placeholderImage
	case img.ID != "":
		return strings.TrimRight(assetsURL, "/") + "/" + string(img.ID)
	case img.URL != "":
		return img.URL
	default:
		return placeholderImage
	}
}
