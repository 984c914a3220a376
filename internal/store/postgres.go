// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadflow/internal/common/config"
	"leadflow/internal/common/logger"
	"leadflow/internal/common/retry"
	"leadflow/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const leadColumns = `id, seq, applicant_name, phone, phone_p1, phone_p2, phone_p3,
	email, due_date, pregnancy_weeks, budget, additional_info, consent_given,
	status, created_at`

// PostgresStore keeps leads in the applications table. Every statement is
// retried on transient failures; exhausting the policy yields ErrStoreUnavailable.
type PostgresStore struct {
	db           *sql.DB
	policy       retry.Policy
	queryTimeout time.Duration
	logger       logger.Logger
	opts         options
}

func NewPostgresStore(db *sql.DB, cfg config.StoreConfig, log logger.Logger, opts ...Option) *PostgresStore {
	policy := retry.Policy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: config.GetDuration(cfg.RetryDelay),
		MaxDelay:     config.GetDuration(cfg.MaxDelay),
	}
	if policy.MaxRetries <= 0 {
		policy = retry.DefaultPolicy
	}

	return &PostgresStore{
		db:           db,
		policy:       policy,
		queryTimeout: config.GetDuration(cfg.QueryTimeout),
		logger:       log.WithFields(map[string]interface{}{"component": "postgres-store"}),
		opts:         buildOptions(opts),
	}
}

// createLockKey names the advisory lock that serializes inserts.
const createLockKey int64 = 0x6c656164666c6f77

// insertLead stamps created_at from the database clock, never earlier than
// the newest existing row. Under createLockKey this keeps created_at and seq
// in insertion order across every server instance.
const insertLead = `
	INSERT INTO applications (
		id, applicant_name, phone, phone_p1, phone_p2, phone_p3,
		email, due_date, pregnancy_weeks, budget, additional_info,
		consent_given, status, created_at
	)
	SELECT $1::uuid, $2, $3, $4, $5, $6, $7, $8, $9::integer, $10, $11, $12::boolean, $13,
		GREATEST(clock_timestamp(), COALESCE(MAX(created_at), '-infinity'::timestamptz))
	FROM applications
	WHERE true
	ON CONFLICT (id) DO NOTHING
	RETURNING seq, created_at`

func (s *PostgresStore) Create(ctx context.Context, payload *models.LeadPayload) (*models.Lead, error) {
	if payload == nil {
		return nil, fmt.Errorf("create lead: nil payload")
	}
	// The id is fixed before the first attempt so a retried insert that
	// already landed is a no-op instead of a duplicate.
	lead := newLead(s.opts, payload)

	var weeks sql.NullInt64
	if lead.PregnancyWeeks != nil {
		weeks = sql.NullInt64{Int64: int64(*lead.PregnancyWeeks), Valid: true}
	}

	var stored *models.Lead
	err := s.withRetry(ctx, "create lead", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, createLockKey); err != nil {
			return err
		}

		inserted := *lead
		err = tx.QueryRowContext(ctx, insertLead,
			lead.ID,
			lead.ApplicantName,
			lead.Phone,
			lead.PhoneParts.P1,
			lead.PhoneParts.P2,
			lead.PhoneParts.P3,
			lead.Email,
			lead.DueDate,
			weeks,
			string(lead.Budget),
			lead.AdditionalInfo,
			lead.ConsentGiven,
			string(lead.Status),
		).Scan(&inserted.Seq, &inserted.CreatedAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// An earlier attempt committed, or the request was replayed.
			existing, err := scanLead(tx.QueryRowContext(ctx,
				`SELECT `+leadColumns+` FROM applications WHERE id = $1`, lead.ID))
			if err != nil {
				return err
			}
			inserted = *existing
		case err != nil:
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		inserted.CreatedAt = inserted.CreatedAt.UTC()
		stored = &inserted
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("lead created", map[string]interface{}{
		"leadId": stored.ID,
		"seq":    stored.Seq,
	})
	return stored, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Lead, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var lead *models.Lead
	err := s.withRetry(ctx, "get lead", func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM applications WHERE id = $1`, id)
		l, err := scanLead(row)
		if errors.Is(err, sql.ErrNoRows) {
			return retry.Permanent(fmt.Errorf("%w: %s", ErrNotFound, id))
		}
		if err != nil {
			return err
		}
		lead = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := lead.Validate(); err != nil {
		return nil, fmt.Errorf("corrupt record: %w", err)
	}
	return lead, nil
}

// List returns every valid record newest first. Rows that fail validation
// are logged and skipped.
func (s *PostgresStore) List(ctx context.Context) ([]models.Lead, error) {
	var leads []models.Lead
	err := s.withRetry(ctx, "list leads", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+leadColumns+` FROM applications ORDER BY created_at DESC, seq DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		leads = leads[:0]
		for rows.Next() {
			l, err := scanLead(rows)
			if err != nil {
				return err
			}
			if err := l.Validate(); err != nil {
				s.logger.Warn("skipping invalid record", map[string]interface{}{
					"leadId": l.ID,
					"error":  err,
				})
				continue
			}
			leads = append(leads, *l)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if leads == nil {
		leads = []models.Lead{}
	}
	return leads, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	if !status.Valid() {
		return fmt.Errorf("update status: invalid status %q", status)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return s.withRetry(ctx, "update status", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE applications SET status = $2 WHERE id = $1`, id, string(status))
		if err != nil {
			return err
		}
		return requireRow(res, id)
	})
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return s.withRetry(ctx, "delete lead", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM applications WHERE id = $1`, id)
		if err != nil {
			return err
		}
		return requireRow(res, id)
	})
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return retry.Permanent(fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	return nil
}

// withRetry runs op under the store's policy with a per-attempt timeout.
// Errors that retrying cannot fix are returned as they are; the rest become
// ErrStoreUnavailable once the policy is exhausted.
func (s *PostgresStore) withRetry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	transient := false
	err := retry.WithBackoff(ctx, func(ctx context.Context) error {
		attemptCtx := ctx
		if s.queryTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, s.queryTimeout)
			defer cancel()
		}

		err := op(attemptCtx)
		transient = false
		if err == nil || retry.IsPermanent(err) {
			return err
		}
		if !isTransient(err) {
			return retry.Permanent(fmt.Errorf("%s: %w", name, err))
		}
		transient = true
		return err
	}, s.policy, s.logger, name)

	if err == nil {
		return nil
	}
	if transient {
		return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, name, err)
	}
	return err
}

// isTransient reports whether a driver error is worth retrying. Postgres
// errors outside the connection, resource and serialization classes are
// permanent.
func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case strings.HasPrefix(string(pqErr.Code), "08"), // connection exception
			strings.HasPrefix(string(pqErr.Code), "40"), // transaction rollback
			strings.HasPrefix(string(pqErr.Code), "53"), // insufficient resources
			strings.HasPrefix(string(pqErr.Code), "57P"): // operator intervention
			return true
		default:
			return false
		}
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Network and unknown driver errors.
	return true
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLead(row rowScanner) (*models.Lead, error) {
	var (
		l      models.Lead
		weeks  sql.NullInt64
		budget string
		status string
	)
	err := row.Scan(
		&l.ID,
		&l.Seq,
		&l.ApplicantName,
		&l.Phone,
		&l.PhoneParts.P1,
		&l.PhoneParts.P2,
		&l.PhoneParts.P3,
		&l.Email,
		&l.DueDate,
		&weeks,
		&budget,
		&l.AdditionalInfo,
		&l.ConsentGiven,
		&status,
		&l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if weeks.Valid {
		w := int(weeks.Int64)
		l.PregnancyWeeks = &w
	}
	l.Budget = models.Budget(budget)
	l.Status = models.Status(status)
	l.CreatedAt = l.CreatedAt.UTC()
	return &l, nil
}
