package intake

import (
	"context"
	"time"

	apperrors "leadflow/internal/common/errors"
	"leadflow/internal/common/logger"
	"leadflow/internal/common/metrics"
	"leadflow/internal/models"
	"leadflow/internal/store"
)

const (
	SourceAPI      = "api"
	SourceWorkflow = "workflow"

	notifyTimeout = 30 * time.Second
)

// Notifier is told about every lead that was stored.
type Notifier interface {
	LeadCreated(ctx context.Context, lead models.Lead) error
}

// Service validates submissions and stores the accepted ones.
type Service struct {
	validator *Validator
	store     store.Store
	notifier  Notifier
	logger    logger.Logger
}

// NewService wires intake. notifier may be nil.
func NewService(v *Validator, s store.Store, notifier Notifier, log logger.Logger) *Service {
	return &Service{
		validator: v,
		store:     s,
		notifier:  notifier,
		logger:    log.WithFields(map[string]interface{}{"component": "intake", "variant": v.Variant()}),
	}
}

// Submit validates raw and creates the record. Validation problems come back
// as *ValidationErrors; store failures are returned as the store reports them.
func (s *Service) Submit(ctx context.Context, source string, raw RawSubmission) (*models.Lead, error) {
	return s.SubmitOnce(ctx, source, "", raw)
}

// SubmitOnce is Submit for callers that may deliver the same submission
// again. Every call with the same requestKey resolves to one record.
func (s *Service) SubmitOnce(ctx context.Context, source, requestKey string, raw RawSubmission) (*models.Lead, error) {
	payload, verrs := s.validator.Validate(raw)
	if verrs != nil {
		code := apperrors.FromError(verrs).Code
		metrics.LeadsRejected.WithLabelValues(string(code)).Inc()
		s.logger.Info("submission rejected", map[string]interface{}{
			"source":    source,
			"errorCode": string(code),
			"fields":    len(verrs.Fields),
		})
		return nil, verrs
	}

	payload.RequestKey = requestKey

	lead, err := s.store.Create(ctx, payload)
	if err != nil {
		s.logger.Error("failed to store lead", map[string]interface{}{
			"source": source,
			"error":  err,
		})
		return nil, err
	}

	metrics.LeadsCreated.WithLabelValues(source).Inc()
	s.logger.Info("lead created", map[string]interface{}{
		"source": source,
		"leadId": lead.ID,
	})

	if s.notifier != nil {
		go s.notify(context.WithoutCancel(ctx), *lead)
	}
	return lead, nil
}

func (s *Service) notify(ctx context.Context, lead models.Lead) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if err := s.notifier.LeadCreated(ctx, lead); err != nil {
		s.logger.Warn("operator notification failed", map[string]interface{}{
			"leadId": lead.ID,
			"error":  err,
		})
	}
}
