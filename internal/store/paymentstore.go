package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PaymentStore is the SQL persistence contract for payment sessions, per
// SPEC_FULL.md §4.7.
type PaymentStore struct {
	db *sql.DB
}

// NewPaymentStore wraps db.
func NewPaymentStore(db *sql.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back (chaining any rollback error to the original failure) otherwise —
// the same auto-rollback discipline spec.md §5 requires of payment
// initiation and completion.
func (s *PaymentStore) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}

// CreateSessionAtomicallyCancellingPrevious cancels (transitions to failed)
// any existing pending session for sess.APIKey and inserts sess, all within
// tx — the caller is expected to already hold the api-key row lock from
// KeyStore.LockForUpdate in the same transaction.
func (s *PaymentStore) CreateSessionAtomicallyCancellingPrevious(ctx context.Context, tx *sql.Tx, sess PaymentSession) (string, error) {
	_, err := tx.ExecContext(ctx, `
		UPDATE payment_sessions SET status = $1 WHERE api_key = $2 AND status = $3`,
		SessionFailed, sess.APIKey, SessionPending)
	if err != nil {
		return "", fmt.Errorf("store: cancel previous pending session: %w", classifyPQError(err))
	}

	id := sess.ID
	if id == "" {
		id = uuid.New().String()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_sessions
			(id, api_key, payment_address, receiver_nonce, status, target_plan_id,
			 amount_required, created_at, expires_at, token_id, token_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, sess.APIKey, sess.PaymentAddress, sess.ReceiverNonce, SessionPending,
		sess.TargetPlanID, sess.AmountRequired, sess.CreatedAt, sess.ExpiresAt,
		sess.TokenID, sess.TokenType)
	if err != nil {
		return "", fmt.Errorf("store: insert payment session: %w", classifyPQError(err))
	}
	return id, nil
}

// FindByID reads a session by its uuid.
func (s *PaymentStore) FindByID(ctx context.Context, id string) (*PaymentSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, api_key, payment_address, receiver_nonce, status, target_plan_id,
		       amount_required::text, token_received, created_at, completed_at, expires_at,
		       token_id, token_type
		FROM payment_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// FindPendingByAPIKey reads the (at most one) pending session for apiKey.
func (s *PaymentStore) FindPendingByAPIKey(ctx context.Context, tx *sql.Tx, apiKey string) (*PaymentSession, error) {
	q := `
		SELECT id, api_key, payment_address, receiver_nonce, status, target_plan_id,
		       amount_required::text, token_received, created_at, completed_at, expires_at,
		       token_id, token_type
		FROM payment_sessions WHERE api_key = $1 AND status = $2`
	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, q, apiKey, SessionPending)
	} else {
		row = s.db.QueryRowContext(ctx, q, apiKey, SessionPending)
	}
	return scanSession(row)
}

// UpdateStatus idempotently transitions a session from pending to status,
// optionally recording completedAt and the received token JSON. No-ops
// (rather than erroring) if the session is no longer pending.
func (s *PaymentStore) UpdateStatus(ctx context.Context, tx *sql.Tx, id string, status PaymentSessionStatus, completedAt *time.Time, tokenReceivedJSON *string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payment_sessions
		SET status = $1, completed_at = $2, token_received = COALESCE($3, token_received)
		WHERE id = $4 AND status = $5`,
		status, completedAt, tokenReceivedJSON, id, SessionPending)
	if err != nil {
		return fmt.Errorf("store: update session status: %w", classifyPQError(err))
	}
	return nil
}

// ExpirePending transitions every pending session whose expiry has passed
// to expired, in a single batch statement. Called periodically by the
// background sweep (internal/payment.Sweeper).
func (s *PaymentStore) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_sessions SET status = $1
		WHERE status = $2 AND expires_at < $3`, SessionExpired, SessionPending, now)
	if err != nil {
		return 0, fmt.Errorf("store: expire pending sessions: %w", classifyPQError(err))
	}
	return res.RowsAffected()
}

func scanSession(row *sql.Row) (*PaymentSession, error) {
	var sess PaymentSession
	var status string
	err := row.Scan(&sess.ID, &sess.APIKey, &sess.PaymentAddress, &sess.ReceiverNonce,
		&status, &sess.TargetPlanID, &sess.AmountRequired, &sess.TokenReceivedJSON,
		&sess.CreatedAt, &sess.CompletedAt, &sess.ExpiresAt, &sess.TokenID, &sess.TokenType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan payment session: %w", classifyPQError(err))
	}
	sess.Status = PaymentSessionStatus(status)
	return &sess, nil
}
