package session

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/patrickwarner/coregflow/internal/models"
)

// Session keys. The names are shared with the page scripts and the form
// collaborators, so they must not change.
const (
	keyAnswersPrefix     = "coreg_answers_"
	keyCombinedPrefix    = "f_2014_coreg_answer_"
	keyDropdownPrefix    = "f_2575_coreg_answer_dropdown_"
	keySubmittedPrefix   = "submitted_"
	keyLongForm          = "longFormCampaigns"
	keyRequiresLongForm  = "requiresLongForm"
	keyShortformBuffer   = "pendingShortCoreg"
	keyShortFormComplete = "shortFormCompleted"
	keyPosition          = "coreg_position"
	keyCatalog           = "coreg_catalog"
	keyCoregFirst        = "coreg_before_shortform"

	KeyGender      = "gender"
	KeyFirstName   = "firstname"
	KeyLastName    = "lastname"
	KeyEmail       = "email"
	KeyDOB         = "dob"
	KeyPostcode    = "postcode"
	KeyStreet      = "straat"
	KeyHouseNumber = "huisnummer"
	KeyCity        = "woonplaats"
	KeyPhone       = "telefoon"
	KeyTrackingID  = "t_id"
	KeyAffID       = "aff_id"
	KeyOfferID     = "offer_id"
	KeySubID       = "sub_id"
	KeySub2        = "sub2"
	KeyUserIP      = "user_ip"
	KeyCampaignURL = "campaign_url"
)

// positionDone marks a flow that reached its terminal state.
const positionDone = "done"

// AnswerSeparator joins the accumulated answers of a campaign group.
const AnswerSeparator = " - "

// Submission is the dedup state of one (cid, sid) destination.
type Submission string

const (
	SubmissionNone      Submission = ""
	SubmissionInFlight  Submission = "in-flight"
	SubmissionDelivered Submission = "delivered"
)

// BufferedAnswer is a short-form coreg answer waiting for the short form.
type BufferedAnswer struct {
	CID      string `json:"cid"`
	SID      string `json:"sid"`
	Answer   string `json:"answer_value"`
	Dropdown string `json:"dropdown,omitempty"`
}

// Destination returns the buffered answer's delivery destination.
func (b BufferedAnswer) Destination() models.Destination {
	return models.Destination{CID: b.CID, SID: b.SID}
}

// State is the typed view of one visitor session. It owns every piece of
// state the coreg flow keeps between events.
type State struct {
	store Store
}

// NewState wraps a session-scoped store.
func NewState(store Store) *State {
	return &State{store: store}
}

// ID returns the session id.
func (s *State) ID() string {
	return s.store.ID()
}

// Value returns a raw session value, or "" when absent.
func (s *State) Value(ctx context.Context, key string) (string, error) {
	v, _, err := s.store.Get(ctx, key)
	return v, err
}

// SetValue stores a raw session value.
func (s *State) SetValue(ctx context.Context, key, value string) error {
	return s.store.Set(ctx, key, value)
}

// Snapshot returns every stored value.
func (s *State) Snapshot(ctx context.Context) (map[string]string, error) {
	return s.store.All(ctx)
}

func (s *State) getJSON(ctx context.Context, key string, out any) error {
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok || raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *State) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.store.Set(ctx, key, string(data))
}

// AppendAnswer adds value to the accumulator of cid unless already present
// and refreshes the combined answer string. It returns the accumulated values.
func (s *State) AppendAnswer(ctx context.Context, cid, value string) ([]string, error) {
	answers, err := s.Answers(ctx, cid)
	if err != nil {
		return nil, err
	}
	if value == "" || slices.Contains(answers, value) {
		return answers, nil
	}
	answers = append(answers, value)
	if err := s.setJSON(ctx, keyAnswersPrefix+cid, answers); err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, keyCombinedPrefix+cid, strings.Join(answers, AnswerSeparator)); err != nil {
		return nil, err
	}
	return answers, nil
}

// Answers returns the accumulated answer values of cid in first-given order.
func (s *State) Answers(ctx context.Context, cid string) ([]string, error) {
	var answers []string
	if err := s.getJSON(ctx, keyAnswersPrefix+cid, &answers); err != nil {
		return nil, err
	}
	return answers, nil
}

// CombinedAnswer returns the accumulated answers of cid joined by AnswerSeparator.
func (s *State) CombinedAnswer(ctx context.Context, cid string) (string, error) {
	answers, err := s.Answers(ctx, cid)
	if err != nil {
		return "", err
	}
	return strings.Join(answers, AnswerSeparator), nil
}

// SetDropdownAnswer records the dropdown selection made for cid.
func (s *State) SetDropdownAnswer(ctx context.Context, cid, value string) error {
	return s.store.Set(ctx, keyDropdownPrefix+cid, value)
}

// DropdownAnswer returns the dropdown selection made for cid, if any.
func (s *State) DropdownAnswer(ctx context.Context, cid string) (string, error) {
	return s.Value(ctx, keyDropdownPrefix+cid)
}

// AddPendingLongForm queues dest for submission at long-form completion.
// It reports false when dest was already queued.
func (s *State) AddPendingLongForm(ctx context.Context, dest models.Destination) (bool, error) {
	pending, err := s.PendingLongForm(ctx)
	if err != nil {
		return false, err
	}
	if slices.Contains(pending, dest) {
		return false, nil
	}
	pending = append(pending, dest)
	if err := s.setJSON(ctx, keyLongForm, pending); err != nil {
		return false, err
	}
	if err := s.store.Set(ctx, keyRequiresLongForm, "true"); err != nil {
		return false, err
	}
	return true, nil
}

// PendingLongForm returns the destinations waiting for the long form.
func (s *State) PendingLongForm(ctx context.Context) ([]models.Destination, error) {
	var pending []models.Destination
	if err := s.getJSON(ctx, keyLongForm, &pending); err != nil {
		return nil, err
	}
	return pending, nil
}

// IsPendingLongForm reports whether dest is queued for the long form. Only
// an exact cid:sid match counts; another sid of the same cid is a separate
// lead.
func (s *State) IsPendingLongForm(ctx context.Context, dest models.Destination) (bool, error) {
	pending, err := s.PendingLongForm(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(pending, dest), nil
}

// ClearPendingLongForm empties the long-form queue.
func (s *State) ClearPendingLongForm(ctx context.Context) error {
	if err := s.store.Delete(ctx, keyLongForm); err != nil {
		return err
	}
	return s.store.Set(ctx, keyRequiresLongForm, "false")
}

// BufferShortform appends an answer to the short-form buffer.
func (s *State) BufferShortform(ctx context.Context, entry BufferedAnswer) error {
	buffer, err := s.ShortformBuffer(ctx)
	if err != nil {
		return err
	}
	return s.setJSON(ctx, keyShortformBuffer, append(buffer, entry))
}

// ShortformBuffer returns the buffered short-form answers in arrival order.
func (s *State) ShortformBuffer(ctx context.Context) ([]BufferedAnswer, error) {
	var buffer []BufferedAnswer
	if err := s.getJSON(ctx, keyShortformBuffer, &buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

// TakeShortformBuffer returns the buffered answers and clears the buffer.
func (s *State) TakeShortformBuffer(ctx context.Context) ([]BufferedAnswer, error) {
	buffer, err := s.ShortformBuffer(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, keyShortformBuffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

// ShortFormCompleted reports whether the short form completed this session.
func (s *State) ShortFormCompleted(ctx context.Context) (bool, error) {
	v, err := s.Value(ctx, keyShortFormComplete)
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// MarkShortFormCompleted records short-form completion.
func (s *State) MarkShortFormCompleted(ctx context.Context) error {
	return s.store.Set(ctx, keyShortFormComplete, "true")
}

// SetCoregBeforeShortForm records whether the page places the coreg block
// before the short form.
func (s *State) SetCoregBeforeShortForm(ctx context.Context, before bool) error {
	return s.store.Set(ctx, keyCoregFirst, strconv.FormatBool(before))
}

// CoregBeforeShortForm returns the layout fact set at session start.
func (s *State) CoregBeforeShortForm(ctx context.Context) (bool, error) {
	v, err := s.Value(ctx, keyCoregFirst)
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// Submission returns the dedup state of dest.
func (s *State) Submission(ctx context.Context, dest models.Destination) (Submission, error) {
	v, err := s.Value(ctx, keySubmittedPrefix+dest.Key())
	return Submission(v), err
}

// ClaimSubmission marks dest in-flight if it has never been claimed. It
// reports false when dest is already in flight or delivered.
func (s *State) ClaimSubmission(ctx context.Context, dest models.Destination) (bool, error) {
	return s.store.SetNX(ctx, keySubmittedPrefix+dest.Key(), string(SubmissionInFlight))
}

// MarkDelivered records a successful delivery to dest.
func (s *State) MarkDelivered(ctx context.Context, dest models.Destination) error {
	return s.store.Set(ctx, keySubmittedPrefix+dest.Key(), string(SubmissionDelivered))
}

// ReleaseSubmission drops an in-flight claim so dest becomes eligible again.
func (s *State) ReleaseSubmission(ctx context.Context, dest models.Destination) error {
	return s.store.Delete(ctx, keySubmittedPrefix+dest.Key())
}

// Submitted returns the keys of all delivered destinations.
func (s *State) Submitted(ctx context.Context) ([]string, error) {
	vals, err := s.store.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keysWithPrefix(vals, keySubmittedPrefix) {
		if Submission(vals[k]) == SubmissionDelivered {
			out = append(out, strings.TrimPrefix(k, keySubmittedPrefix))
		}
	}
	return out, nil
}

// Position returns the visible section index, or done=true once the flow
// reached its terminal state. A fresh session is at index 0.
func (s *State) Position(ctx context.Context) (idx int, done bool, err error) {
	v, err := s.Value(ctx, keyPosition)
	if err != nil || v == "" {
		return 0, false, err
	}
	if v == positionDone {
		return 0, true, nil
	}
	idx, err = strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("decode position %q: %w", v, err)
	}
	return idx, false, nil
}

// SetPosition records the visible section index.
func (s *State) SetPosition(ctx context.Context, idx int) error {
	return s.store.Set(ctx, keyPosition, strconv.Itoa(idx))
}

// MarkDone records that the flow reached its terminal state.
func (s *State) MarkDone(ctx context.Context) error {
	return s.store.Set(ctx, keyPosition, positionDone)
}

// SaveCatalog snapshots the campaign sequence used by this session.
func (s *State) SaveCatalog(ctx context.Context, campaigns []models.Campaign) error {
	if campaigns == nil {
		campaigns = []models.Campaign{}
	}
	return s.setJSON(ctx, keyCatalog, campaigns)
}

// Catalog returns the session's campaign snapshot. The bool is false when
// no snapshot was ever saved.
func (s *State) Catalog(ctx context.Context) ([]models.Campaign, bool, error) {
	raw, ok, err := s.store.Get(ctx, keyCatalog)
	if err != nil || !ok {
		return nil, false, err
	}
	var campaigns []models.Campaign
	if err := json.Unmarshal([]byte(raw), &campaigns); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", keyCatalog, err)
	}
	return campaigns, true, nil
}

// SaveProfile stores the short-form fields. Empty fields are skipped so a
// partial resubmission never erases earlier input.
func (s *State) SaveProfile(ctx context.Context, p models.Profile) error {
	return s.setFields(ctx, map[string]string{
		KeyGender:    p.Gender,
		KeyFirstName: p.FirstName,
		KeyLastName:  p.LastName,
		KeyEmail:     p.Email,
		KeyDOB:       p.DOB,
	})
}

// SaveAddress stores the long-form fields.
func (s *State) SaveAddress(ctx context.Context, a models.Address) error {
	return s.setFields(ctx, map[string]string{
		KeyPostcode:    a.Postcode,
		KeyStreet:      a.Street,
		KeyHouseNumber: a.HouseNumber,
		KeyCity:        a.City,
		KeyPhone:       a.Phone,
	})
}

// SaveTracking stores the landing-page tracking identifiers.
func (s *State) SaveTracking(ctx context.Context, t models.Tracking) error {
	return s.setFields(ctx, map[string]string{
		KeyTrackingID: t.TrackingID,
		KeyAffID:      t.AffID,
		KeyOfferID:    t.OfferID,
		KeySubID:      t.SubID,
		KeySub2:       t.Sub2,
	})
}

func (s *State) setFields(ctx context.Context, fields map[string]string) error {
	for k, v := range fields {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if err := s.store.Set(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}
