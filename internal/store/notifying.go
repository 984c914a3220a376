package store

import (
	"context"
	"time"

	"leadflow/internal/common/logger"
	"leadflow/internal/models"
)

// Notifying wraps a Store and publishes a ChangeEvent after every successful
// write. A failed publish is logged; the write itself already happened.
type Notifying struct {
	Store
	publisher Publisher
	logger    logger.Logger
}

func NewNotifying(inner Store, publisher Publisher, log logger.Logger) *Notifying {
	return &Notifying{
		Store:     inner,
		publisher: publisher,
		logger:    log.WithFields(map[string]interface{}{"component": "store-events"}),
	}
}

func (n *Notifying) Create(ctx context.Context, payload *models.LeadPayload) (*models.Lead, error) {
	lead, err := n.Store.Create(ctx, payload)
	if err != nil {
		return nil, err
	}
	n.publish(ctx, ChangeCreated, lead.ID)
	return lead, nil
}

func (n *Notifying) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	if err := n.Store.UpdateStatus(ctx, id, status); err != nil {
		return err
	}
	n.publish(ctx, ChangeUpdated, id)
	return nil
}

func (n *Notifying) Delete(ctx context.Context, id string) error {
	if err := n.Store.Delete(ctx, id); err != nil {
		return err
	}
	n.publish(ctx, ChangeDeleted, id)
	return nil
}

func (n *Notifying) publish(ctx context.Context, kind ChangeKind, id string) {
	ev := ChangeEvent{Kind: kind, ID: id, At: time.Now().UTC()}
	if err := n.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		n.logger.Warn("failed to publish change", map[string]interface{}{
			"kind":   string(kind),
			"leadId": id,
			"error":  err,
		})
	}
}
