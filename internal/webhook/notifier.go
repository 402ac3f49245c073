package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/funilcrm/backend/internal/board"
)

var (
	errMissingURL = errors.New("webhook url is required")
	noOpLogger    = zap.NewNop()
)

const (
	opNotifierNew = "webhook.notifier.new"
	opNotify      = "webhook.notifier.notify_lead_moved"

	triggerLeadMoved = "lead_moved"

	defaultTimeout = 10 * time.Second
)

// ServiceError wraps a failure with a dotted operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// movedPayload is the wire body sent for every completed move.
type movedPayload struct {
	Trigger            string         `json:"trigger"`
	Lead               movedLead      `json:"lead"`
	PipelineID         string         `json:"pipeline_id"`
	PipelineName       string         `json:"pipeline_name"`
	PreviousPipelineID string         `json:"previous_pipeline_id"`
	SubOriginID        string         `json:"sub_origin_id"`
	MovedAt            time.Time      `json:"moved_at"`
	Extra              map[string]any `json:"extra,omitempty"`
}

type movedLead struct {
	LeadID string `json:"lead_id"`
	Name   string `json:"name"`
	Phone  string `json:"phone,omitempty"`
	Email  string `json:"email,omitempty"`
}

// NotifierConfig bundles dependencies for constructing a Notifier.
type NotifierConfig struct {
	URL        string
	HTTPClient *http.Client
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Notifier posts move events to an external automation endpoint. Delivery is
// best effort; callers treat failures as log-only.
type Notifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
	clock  func() time.Time
}

// NewNotifier validates configuration and constructs a Notifier.
func NewNotifier(cfg NotifierConfig) (*Notifier, error) {
	if cfg.URL == "" {
		return nil, newServiceError(opNotifierNew, "missing_url", errMissingURL)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Notifier{url: cfg.URL, client: client, logger: logger, clock: clock}, nil
}

// NotifyLeadMoved posts one lead_moved payload to the configured endpoint.
func (n *Notifier) NotifyLeadMoved(ctx context.Context, event board.MoveEvent) error {
	payload := movedPayload{
		Trigger: triggerLeadMoved,
		Lead: movedLead{
			LeadID: event.Lead.LeadID,
			Name:   event.Lead.Name,
			Phone:  event.Lead.Phone,
			Email:  event.Lead.Email,
		},
		PipelineID:         event.ToPipelineID,
		PipelineName:       event.ToPipelineName,
		PreviousPipelineID: event.FromPipelineID,
		SubOriginID:        event.SubOriginID,
		MovedAt:            n.clock().UTC(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return newServiceError(opNotify, "encode_failed", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return newServiceError(opNotify, "request_failed", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := n.client.Do(request)
	if err != nil {
		n.logger.Warn("webhook delivery failed", zap.String("lead_id", event.Lead.LeadID), zap.Error(err))
		return newServiceError(opNotify, "delivery_failed", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		err := fmt.Errorf("unexpected status %d", response.StatusCode)
		n.logger.Warn("webhook delivery rejected",
			zap.String("lead_id", event.Lead.LeadID),
			zap.Int("status", response.StatusCode))
		return newServiceError(opNotify, "delivery_rejected", err)
	}

	n.logger.Info("webhook delivered",
		zap.String("lead_id", event.Lead.LeadID),
		zap.String("pipeline_id", event.ToPipelineID))
	return nil
}
