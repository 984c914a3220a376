// Package gateway is the single entry point for operator-initiated changes
// to existing records.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "leadflow/internal/common/errors"
	"leadflow/internal/common/logger"
	"leadflow/internal/common/metrics"
	"leadflow/internal/common/observability"
	"leadflow/internal/models"
	"leadflow/internal/status"
	"leadflow/internal/store"
)

const (
	OperationSetStatus = "set_status"
	OperationDelete    = "delete"
)

// Result describes a mutation that was applied.
type Result struct {
	Operation string        `json:"operation"`
	ID        string        `json:"id"`
	Status    models.Status `json:"status,omitempty"`
	Previous  models.Status `json:"previousStatus,omitempty"`
	AppliedAt time.Time     `json:"appliedAt"`
}

type Gateway struct {
	store  store.Store
	obs    *observability.Observability
	logger logger.Logger
}

func New(s store.Store, obs *observability.Observability, log logger.Logger) *Gateway {
	return &Gateway{
		store:  s,
		obs:    obs,
		logger: log.WithFields(map[string]interface{}{"component": "mutation-gateway"}),
	}
}

// SetStatus moves record id to requested if the workflow allows it. Once
// called it runs to completion even if ctx is cancelled.
func (g *Gateway) SetStatus(ctx context.Context, id string, requested models.Status) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	started := time.Now()

	res, err := g.setStatus(ctx, id, requested)
	g.record(ctx, OperationSetStatus, id, started, err)
	return res, err
}

func (g *Gateway) setStatus(ctx context.Context, id string, requested models.Status) (*Result, error) {
	current, err := g.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := status.Check(current.Status, requested); err != nil {
		return nil, fmt.Errorf("lead %s: %w", id, err)
	}

	// Last write wins: a concurrent change between Get and UpdateStatus is
	// not detected.
	if err := g.store.UpdateStatus(ctx, id, requested); err != nil {
		return nil, err
	}

	return &Result{
		Operation: OperationSetStatus,
		ID:        id,
		Status:    requested,
		Previous:  current.Status,
		AppliedAt: time.Now().UTC(),
	}, nil
}

// DeleteRecord removes id permanently. Confirmation is the caller's job.
func (g *Gateway) DeleteRecord(ctx context.Context, id string) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	started := time.Now()

	err := g.store.Delete(ctx, id)
	g.record(ctx, OperationDelete, id, started, err)
	if err != nil {
		return nil, err
	}

	return &Result{
		Operation: OperationDelete,
		ID:        id,
		AppliedAt: time.Now().UTC(),
	}, nil
}

func (g *Gateway) record(ctx context.Context, operation, id string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = string(apperrors.FromError(err).Code)
	}

	metrics.Mutations.WithLabelValues(operation, result).Inc()
	g.obs.RecordMutation(ctx, operation, result, time.Since(started))

	fields := map[string]interface{}{
		"operation": operation,
		"leadId":    id,
		"result":    result,
	}
	switch {
	case err == nil:
		g.logger.Info("mutation applied", fields)
	case errors.Is(err, store.ErrStoreUnavailable):
		fields["error"] = err
		g.logger.Error("mutation failed", fields)
	default:
		fields["error"] = err
		g.logger.Warn("mutation rejected", fields)
	}
}
