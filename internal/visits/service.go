// Package visits registers landing-page visits and runs the PIN phone
// confirmation channel on top of Postgres.
package visits

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/coregflow/internal/db"
	"github.com/patrickwarner/coregflow/internal/geoip"
	"github.com/patrickwarner/coregflow/internal/models"
	"github.com/patrickwarner/coregflow/internal/ratelimit"
)

var (
	ErrVisitRequired = errors.New("internalVisitId required")
	ErrPinRequired   = errors.New("PIN required")
	ErrPinNotFound   = errors.New("PIN not found")
	ErrRateLimited   = errors.New("too many PIN requests")
)

// Repository persists visits and calls. *db.Postgres satisfies it.
type Repository interface {
	InsertVisit(ctx context.Context, v *models.Visit) error
	InsertCall(ctx context.Context, c *models.Call) error
	FindCallByPin(ctx context.Context, pin string) (*models.Call, error)
	UpdateCallStatus(ctx context.Context, id int64, status string) error
}

var _ Repository = (*db.Postgres)(nil)

// VisitRequest is the body of a visit registration.
type VisitRequest struct {
	ClickID  string `json:"clickId"`
	AffID    string `json:"affId"`
	OfferID  string `json:"offerId"`
	SubID    string `json:"subId"`
	SubID2   string `json:"subId2"`
	IsMobile *bool  `json:"isMobile,omitempty"`
}

// PinRequest is the body of a PIN request.
type PinRequest struct {
	InternalVisitID int64  `json:"internalVisitId"`
	ClickID         string `json:"clickId"`
	AffID           string `json:"affId"`
	OfferID         string `json:"offerId"`
	SubID           string `json:"subId"`
	SubID2          string `json:"subId2"`
}

// Service implements visit registration and PIN issuance and verification.
type Service struct {
	repo    Repository
	limiter *ratelimit.KeyedLimiter
	logger  *zap.Logger

	Now    func() time.Time
	NewPin func() string
}

// NewService wires a Service. limiter may be nil to disable PIN throttling.
func NewService(repo Repository, limiter *ratelimit.KeyedLimiter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		limiter: limiter,
		logger:  logger,
		Now:     time.Now,
		NewPin:  genPin,
	}
}

// genPin returns a random three digit PIN.
func genPin() string {
	return strconv.Itoa(100 + rand.IntN(900))
}

// RegisterVisit stores a visit. A missing click id is replaced with a fresh
// UUID and an absent isMobile flag is taken from the visitor's device.
func (s *Service) RegisterVisit(ctx context.Context, req VisitRequest, visitor geoip.Visitor) (*models.Visit, error) {
	v := &models.Visit{
		ClickID:   strings.TrimSpace(req.ClickID),
		AffID:     req.AffID,
		OfferID:   req.OfferID,
		SubID:     req.SubID,
		SubID2:    req.SubID2,
		Country:   visitor.Country,
		CreatedAt: s.Now().UTC(),
	}
	if v.ClickID == "" {
		v.ClickID = uuid.NewString()
	}
	if req.IsMobile != nil {
		v.IsMobile = *req.IsMobile
	} else {
		v.IsMobile = visitor.IsMobile()
	}

	if err := s.repo.InsertVisit(ctx, v); err != nil {
		return nil, fmt.Errorf("register visit: %w", err)
	}
	s.logger.Info("visit registered",
		zap.Int64("visit_id", v.ID),
		zap.String("click_id", v.ClickID),
		zap.String("country", v.Country))
	return v, nil
}

// RequestPin issues a PIN for the visit and records a waiting call.
func (s *Service) RequestPin(ctx context.Context, req PinRequest) (string, error) {
	if req.InternalVisitID <= 0 {
		return "", ErrVisitRequired
	}
	if s.limiter != nil && !s.limiter.Allow(strconv.FormatInt(req.InternalVisitID, 10)) {
		return "", ErrRateLimited
	}

	c := &models.Call{
		VisitID:   req.InternalVisitID,
		ClickID:   req.ClickID,
		AffID:     req.AffID,
		OfferID:   req.OfferID,
		SubID:     req.SubID,
		SubID2:    req.SubID2,
		Pincode:   s.NewPin(),
		Status:    models.CallStatusWaiting,
		CreatedAt: s.Now().UTC(),
	}
	if err := s.repo.InsertCall(ctx, c); err != nil {
		return "", fmt.Errorf("request pin: %w", err)
	}
	s.logger.Info("pin issued", zap.Int64("visit_id", c.VisitID), zap.Int64("call", c.ID))
	return c.Pincode, nil
}

// VerifyPin confirms the latest call issued with pin and returns it.
func (s *Service) VerifyPin(ctx context.Context, pin string) (*models.Call, error) {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return nil, ErrPinRequired
	}
	c, err := s.repo.FindCallByPin(ctx, pin)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrPinNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("verify pin: %w", err)
	}
	if err := s.repo.UpdateCallStatus(ctx, c.ID, models.CallStatusConfirmed); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrPinNotFound
		}
		return nil, fmt.Errorf("verify pin: %w", err)
	}
	c.Status = models.CallStatusConfirmed
	s.logger.Info("pin confirmed", zap.Int64("call", c.ID), zap.String("call_id", c.CallID))
	return c, nil
}
