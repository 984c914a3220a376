// Package store persists lead records and announces every change.
package store

import (
	"context"
	"time"

	apperrors "leadflow/internal/common/errors"
	"leadflow/internal/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = apperrors.ErrNotFound
	ErrStoreUnavailable = apperrors.ErrStoreUnavailable
)

// Store is the durable set of lead records. List is ordered newest first.
type Store interface {
	Create(ctx context.Context, payload *models.LeadPayload) (*models.Lead, error)
	Get(ctx context.Context, id string) (*models.Lead, error)
	List(ctx context.Context) ([]models.Lead, error)
	UpdateStatus(ctx context.Context, id string, status models.Status) error
	Delete(ctx context.Context, id string) error
}

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
	// ChangeResync is not a write; it asks listeners to reload everything.
	ChangeResync ChangeKind = "resync"
)

// ChangeEvent says that record ID changed. Listeners reload the full set
// rather than apply the event.
type ChangeEvent struct {
	Kind ChangeKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
	At   time.Time  `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent) error
}

type options struct {
	now   func() time.Time
	newID func() string
}

type Option func(*options)

// WithClock overrides the creation timestamp source of the memory store.
// The Postgres store always takes the database clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

func buildOptions(opts []Option) options {
	o := options{
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

var requestKeyNamespace = uuid.MustParse("8d1f4c2e-5b7a-4e39-a0c6-2f9e1b3d7a58")

// RecordID is the id a create carrying requestKey is stored under.
func RecordID(requestKey string) string {
	return uuid.NewSHA1(requestKeyNamespace, []byte(requestKey)).String()
}

// newLead builds the record to insert. CreatedAt and Seq are left for the
// store to assign at its serialization point.
func newLead(o options, payload *models.LeadPayload) *models.Lead {
	id := payload.RequestKey
	if id == "" {
		id = o.newID()
	} else {
		id = RecordID(id)
	}
	return &models.Lead{
		ID:          id,
		LeadPayload: *payload,
		Status:      models.StatusPending,
	}
}
