package store

import (
	"context"
	"database/sql"
	"fmt"
)

// KeyStore is the SQL persistence contract for api keys and pricing plans,
// per SPEC_FULL.md §4.7. It is grounded on the plain database/sql +
// lib/pq query style of other_examples' sharding-system proxy, adapted to
// this module's tables.
type KeyStore struct {
	db *sql.DB
}

// NewKeyStore wraps db.
func NewKeyStore(db *sql.DB) *KeyStore {
	return &KeyStore{db: db}
}

// FindByAPIKey looks up an api key record by its opaque key string.
func (s *KeyStore) FindByAPIKey(ctx context.Context, apiKey string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, api_key, description, pricing_plan_id, status, active_until, created_at
		FROM api_keys WHERE api_key = $1`, apiKey)
	k, err := scanAPIKey(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find api key: %w", classifyPQError(err))
	}
	return k, nil
}

// FindByID looks up an api key record by its primary key.
func (s *KeyStore) FindByID(ctx context.Context, id int64) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, api_key, description, pricing_plan_id, status, active_until, created_at
		FROM api_keys WHERE id = $1`, id)
	k, err := scanAPIKey(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find api key by id: %w", classifyPQError(err))
	}
	return k, nil
}

// CreateKey inserts a new planless, active api key and returns its id.
func (s *KeyStore) CreateKey(ctx context.Context, apiKey, description string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO api_keys (api_key, description, status)
		VALUES ($1, $2, $3) RETURNING id`, apiKey, description, StatusActive).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: create api key: %w", classifyPQError(err))
	}
	return id, nil
}

// UpgradeKeyTx sets pricing_plan_id and active_until on apiKey within the
// given transaction, used by PaymentService.complete under the same
// transaction as the session's terminal update.
func (s *KeyStore) UpgradeKeyTx(ctx context.Context, tx *sql.Tx, apiKey string, planID int64, activeUntil interface{}) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE api_keys SET pricing_plan_id = $1, active_until = $2 WHERE api_key = $3`,
		planID, activeUntil, apiKey)
	if err != nil {
		return fmt.Errorf("store: upgrade api key: %w", classifyPQError(err))
	}
	return nil
}

// LockForUpdate takes a row lock on apiKey's api_keys row within tx using
// SELECT ... FOR UPDATE NOWAIT. A lock already held by another transaction
// surfaces as ErrLockConflict.
func (s *KeyStore) LockForUpdate(ctx context.Context, tx *sql.Tx, apiKey string) (*APIKey, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, api_key, description, pricing_plan_id, status, active_until, created_at
		FROM api_keys WHERE api_key = $1 FOR UPDATE NOWAIT`, apiKey)
	k, err := scanAPIKey(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyPQError(err)
	}
	return k, nil
}

// FindPlanByID reads a pricing plan by id.
func (s *KeyStore) FindPlanByID(ctx context.Context, id int64) (*PricingPlan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, requests_per_second, requests_per_day, price::text
		FROM pricing_plans WHERE id = $1`, id)
	var p PricingPlan
	err := row.Scan(&p.ID, &p.Name, &p.RequestsPerSecond, &p.RequestsPerDay, &p.Price)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find pricing plan: %w", classifyPQError(err))
	}
	return &p, nil
}

// ListPlans reads every pricing plan, ordered by id, for the public
// /api/payment/plans listing.
func (s *KeyStore) ListPlans(ctx context.Context) ([]PricingPlan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, requests_per_second, requests_per_day, price::text
		FROM pricing_plans ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list pricing plans: %w", classifyPQError(err))
	}
	defer rows.Close()

	var plans []PricingPlan
	for rows.Next() {
		var p PricingPlan
		if err := rows.Scan(&p.ID, &p.Name, &p.RequestsPerSecond, &p.RequestsPerDay, &p.Price); err != nil {
			return nil, fmt.Errorf("store: scan pricing plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAPIKey(row rowScanner) (*APIKey, error) {
	var k APIKey
	var status string
	if err := row.Scan(&k.ID, &k.APIKey, &k.Description, &k.PricingPlanID, &status, &k.ActiveUntil, &k.CreatedAt); err != nil {
		return nil, err
	}
	k.Status = APIKeyStatus(status)
	return &k, nil
}
