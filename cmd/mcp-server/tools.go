package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/coregflow/internal/analytics"
	"github.com/patrickwarner/coregflow/internal/catalog"
	"github.com/patrickwarner/coregflow/internal/models"
	"github.com/patrickwarner/coregflow/internal/session"
)

type ListCampaignsInput struct {
	Refresh bool `json:"refresh,omitempty"`
}

type CampaignSummary struct {
	ID               string `json:"id"`
	CID              string `json:"cid"`
	SID              string `json:"sid"`
	Title            string `json:"title"`
	Style            string `json:"style"`
	GroupKey         string `json:"group_key"`
	Step             int    `json:"step"`
	Final            bool   `json:"final"`
	RequiresLongForm bool   `json:"requires_long_form"`
	IsShortformCoreg bool   `json:"is_shortform_coreg"`
	Answers          int    `json:"answers"`
}

type ListCampaignsOutput struct {
	Campaigns []CampaignSummary `json:"campaigns"`
}

type SessionInput struct {
	SessionID string `json:"session_id"`
}

type InspectSessionOutput struct {
	SessionID          string            `json:"session_id"`
	Position           int               `json:"position"`
	Done               bool              `json:"done"`
	ShortFormCompleted bool              `json:"short_form_completed"`
	Delivered          []string          `json:"delivered"`
	PendingLongForm    []string          `json:"pending_long_form"`
	Buffered           int               `json:"buffered"`
	Fields             map[string]string `json:"fields"`
}

type SessionEventsOutput struct {
	Events []analytics.Event `json:"events"`
}

type LookupPinInput struct {
	Pin string `json:"pin"`
}

type LookupPinOutput struct {
	Call models.Call `json:"call"`
}

// CallFinder looks up PIN calls. *db.Postgres satisfies it.
type CallFinder interface {
	FindCallByPin(ctx context.Context, pin string) (*models.Call, error)
}

// CoregServer holds the dependencies of the operator tools. Every
// dependency except the catalog is optional.
type CoregServer struct {
	catalog   *catalog.Client
	loader    *catalog.Loader
	sessions  session.Backend
	analytics *analytics.Analytics
	calls     CallFinder
	logger    *zap.Logger
}

var errNotConfigured = errors.New("not configured")

// internal fields that are too large or too noisy for the session view
var hiddenFields = map[string]bool{"coreg_catalog": true}

// ListCampaigns returns the arranged catalog as the flow would present it.
func (s *CoregServer) ListCampaigns(ctx context.Context, req *mcp.CallToolRequest, input ListCampaignsInput) (*mcp.CallToolResult, ListCampaignsOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if input.Refresh {
		s.catalog.Invalidate()
	}
	campaigns := s.loader.Load(ctx)
	out := ListCampaignsOutput{Campaigns: make([]CampaignSummary, 0, len(campaigns))}
	for _, c := range campaigns {
		out.Campaigns = append(out.Campaigns, CampaignSummary{
			ID:               c.ID,
			CID:              c.CID,
			SID:              c.SID,
			Title:            c.Title,
			Style:            c.Style,
			GroupKey:         c.GroupKey,
			Step:             c.StepIndex,
			Final:            c.IsFinalStep,
			RequiresLongForm: c.RequiresLongForm,
			IsShortformCoreg: c.IsShortformCoreg,
			Answers:          len(c.Answers),
		})
	}
	s.logger.Info("listed campaigns", zap.Int("count", len(out.Campaigns)))
	return nil, out, nil
}

// InspectSession reports where a session stands in the flow.
func (s *CoregServer) InspectSession(ctx context.Context, req *mcp.CallToolRequest, input SessionInput) (*mcp.CallToolResult, InspectSessionOutput, error) {
	if s.sessions == nil {
		return nil, InspectSessionOutput{}, fmt.Errorf("session store: %w", errNotConfigured)
	}
	id := strings.TrimSpace(input.SessionID)
	ok, err := s.sessions.Exists(ctx, id)
	if err != nil {
		return nil, InspectSessionOutput{}, err
	}
	if !ok {
		return nil, InspectSessionOutput{}, fmt.Errorf("%s: %w", id, session.ErrUnknownSession)
	}

	st := session.NewState(s.sessions.Open(id))
	out := InspectSessionOutput{SessionID: id, Fields: map[string]string{}}
	if out.Position, out.Done, err = st.Position(ctx); err != nil {
		return nil, out, fmt.Errorf("position: %w", err)
	}
	if out.ShortFormCompleted, err = st.ShortFormCompleted(ctx); err != nil {
		return nil, out, fmt.Errorf("short form: %w", err)
	}
	if out.Delivered, err = st.Submitted(ctx); err != nil {
		return nil, out, fmt.Errorf("submitted: %w", err)
	}
	sort.Strings(out.Delivered)
	pending, err := st.PendingLongForm(ctx)
	if err != nil {
		return nil, out, fmt.Errorf("long form: %w", err)
	}
	for _, d := range pending {
		out.PendingLongForm = append(out.PendingLongForm, d.Key())
	}
	buffered, err := st.ShortformBuffer(ctx)
	if err != nil {
		return nil, out, fmt.Errorf("buffer: %w", err)
	}
	out.Buffered = len(buffered)

	fields, err := st.Snapshot(ctx)
	if err != nil {
		return nil, out, fmt.Errorf("snapshot: %w", err)
	}
	for k, v := range fields {
		if !hiddenFields[k] {
			out.Fields[k] = v
		}
	}
	return nil, out, nil
}

// SessionEvents returns the recorded flow events of a session.
func (s *CoregServer) SessionEvents(ctx context.Context, req *mcp.CallToolRequest, input SessionInput) (*mcp.CallToolResult, SessionEventsOutput, error) {
	events, err := s.analytics.EventsBySession(ctx, strings.TrimSpace(input.SessionID))
	if err != nil {
		return nil, SessionEventsOutput{}, fmt.Errorf("session events: %w", err)
	}
	if events == nil {
		events = []analytics.Event{}
	}
	return nil, SessionEventsOutput{Events: events}, nil
}

// LookupPin returns the latest call issued with a PIN.
func (s *CoregServer) LookupPin(ctx context.Context, req *mcp.CallToolRequest, input LookupPinInput) (*mcp.CallToolResult, LookupPinOutput, error) {
	if s.calls == nil {
		return nil, LookupPinOutput{}, fmt.Errorf("postgres: %w", errNotConfigured)
	}
	c, err := s.calls.FindCallByPin(ctx, strings.TrimSpace(input.Pin))
	if err != nil {
		return nil, LookupPinOutput{}, fmt.Errorf("lookup pin: %w", err)
	}
	return nil, LookupPinOutput{Call: *c}, nil
}

func sessionIDSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Coreg session id",
			},
		},
		"required": []string{"session_id"},
	}
}

// register adds the tools whose dependencies are configured.
func (s *CoregServer) register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_campaigns",
		Description: "List the coreg campaigns in flow order as loaded from the CMS",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"refresh": map[string]interface{}{
					"type":        "boolean",
					"description": "Drop the cached catalog before loading (optional)",
				},
			},
		},
	}, s.ListCampaigns)

	if s.sessions != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "inspect_session",
			Description: "Show the flow position, deliveries and queued answers of a coreg session",
			InputSchema: sessionIDSchema(),
		}, s.InspectSession)
	}

	if s.analytics != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "session_events",
			Description: "List the recorded flow events of a coreg session",
			InputSchema: sessionIDSchema(),
		}, s.SessionEvents)
	}

	if s.calls != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "lookup_pin",
			Description: "Find the phone confirmation call issued with a PIN",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pin": map[string]interface{}{
						"type":        "string",
						"description": "Three digit PIN",
					},
				},
				"required": []string{"pin"},
			},
		}, s.LookupPin)
	}
}
