// Package payload assembles lead submissions from session state.
package payload

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/coregflow/internal/models"
	"github.com/patrickwarner/coregflow/internal/session"
)

const (
	unknownTracking = "unknown"
	defaultIP       = "0.0.0.0"
	optInLayout     = "2006-01-02T15:04:05+0000"
)

// Builder turns a destination plus coreg answers into a lead payload by
// merging the visitor fields already captured in the session.
type Builder struct {
	campaignURL string
	logger      *zap.Logger

	// Now returns the opt-in timestamp. Defaults to time.Now.
	Now func() time.Time
	// NewID generates the tracking id when the landing URL carried none.
	NewID func() string
}

// NewBuilder creates a Builder. campaignURL is used when the session holds
// no landing page URL.
func NewBuilder(campaignURL string, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		campaignURL: campaignURL,
		logger:      logger.Named("payload"),
		Now:         time.Now,
		NewID:       uuid.NewString,
	}
}

// Build returns the coreg lead for dest. It never fails: unreadable or
// missing session values become empty strings or their documented defaults.
func (b *Builder) Build(ctx context.Context, st *session.State, dest models.Destination, combined, dropdown string) models.Payload {
	p := b.base(ctx, st, dest)
	p.CoregAnswer = combined
	p.DropdownAnswer = dropdown
	return p
}

// BuildShortForm returns the primary short-form lead for dest.
func (b *Builder) BuildShortForm(ctx context.Context, st *session.State, dest models.Destination) models.Payload {
	p := b.base(ctx, st, dest)
	p.IsShortForm = true
	return p
}

func (b *Builder) base(ctx context.Context, st *session.State, dest models.Destination) models.Payload {
	vals, err := st.Snapshot(ctx)
	if err != nil {
		b.logger.Warn("session unreadable, building payload from defaults",
			zap.String("cid", dest.CID), zap.String("sid", dest.SID), zap.Error(err))
		vals = map[string]string{}
	}
	get := func(key string) string { return strings.TrimSpace(vals[key]) }
	orDefault := func(key, def string) string {
		if v := get(key); v != "" {
			return v
		}
		return def
	}

	return models.Payload{
		CID:         dest.CID,
		SID:         dest.SID,
		Gender:      get(session.KeyGender),
		FirstName:   get(session.KeyFirstName),
		LastName:    get(session.KeyLastName),
		Email:       get(session.KeyEmail),
		Postcode:    get(session.KeyPostcode),
		Street:      get(session.KeyStreet),
		HouseNumber: get(session.KeyHouseNumber),
		City:        get(session.KeyCity),
		Phone:       get(session.KeyPhone),
		DOB:         NormalizeDOB(get(session.KeyDOB)),
		TrackingID:  b.trackingID(ctx, st, get(session.KeyTrackingID)),
		AffID:       orDefault(session.KeyAffID, unknownTracking),
		OfferID:     orDefault(session.KeyOfferID, unknownTracking),
		SubID:       orDefault(session.KeySubID, unknownTracking),
		Sub2:        orDefault(session.KeySub2, unknownTracking),
		CampaignURL: OnlineURL(orDefault(session.KeyCampaignURL, b.campaignURL)),
		IPAddress:   orDefault(session.KeyUserIP, defaultIP),
		OptInDate:   b.Now().UTC().Format(optInLayout),
	}
}

// trackingID returns the stored id, generating and persisting one on first use
// so every lead of the session carries the same value.
func (b *Builder) trackingID(ctx context.Context, st *session.State, stored string) string {
	if stored != "" {
		return stored
	}
	id := b.NewID()
	if err := st.SetValue(ctx, session.KeyTrackingID, id); err != nil {
		b.logger.Warn("failed to persist generated t_id", zap.Error(err))
	}
	return id
}

// NormalizeDOB converts dd/mm/yyyy into yyyy-mm-dd. Anything else yields "".
func NormalizeDOB(v string) string {
	parts := strings.Split(strings.ReplaceAll(v, " ", ""), "/")
	if len(parts) != 3 {
		return ""
	}
	dd, mm, yyyy := parts[0], parts[1], parts[2]
	if dd == "" || mm == "" || yyyy == "" {
		return ""
	}
	return fmt.Sprintf("%s-%s-%s", yyyy, pad2(mm), pad2(dd))
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// OnlineURL strips query and fragment from the landing page URL and marks it
// with status=online.
func OnlineURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = "status=online"
	u.Fragment = ""
	return u.String()
}
