package store

import "time"

// PricingPlan mirrors the pricing_plans table (spec §3/§6). Price is kept
// as a decimal string since it can carry up to 78 digits — never a float,
// never a machine int.
type PricingPlan struct {
	ID                int64
	Name              string
	RequestsPerSecond int32
	RequestsPerDay    int32
	Price             string // base-10, up to 78 digits
}

// APIKeyStatus enumerates api_keys.status.
type APIKeyStatus string

const (
	StatusActive  APIKeyStatus = "active"
	StatusRevoked APIKeyStatus = "revoked"
)

// APIKey mirrors the api_keys table.
type APIKey struct {
	ID            int64
	APIKey        string
	Description   string
	Status        APIKeyStatus
	PricingPlanID *int64
	ActiveUntil   *time.Time
	CreatedAt     time.Time
}

// Usable reports whether the key is active, has a plan, and is unexpired.
func (k APIKey) Usable(now time.Time) bool {
	if k.Status != StatusActive || k.PricingPlanID == nil {
		return false
	}
	if k.ActiveUntil != nil && !now.Before(*k.ActiveUntil) {
		return false
	}
	return true
}

// PaymentSessionStatus enumerates payment_sessions.status.
type PaymentSessionStatus string

const (
	SessionPending   PaymentSessionStatus = "pending"
	SessionCompleted PaymentSessionStatus = "completed"
	SessionFailed    PaymentSessionStatus = "failed"
	SessionExpired   PaymentSessionStatus = "expired"
)

// PaymentSession mirrors the payment_sessions table.
type PaymentSession struct {
	ID                string // uuid
	APIKey            string
	PaymentAddress    string
	ReceiverNonce     []byte // 32 bytes
	Status            PaymentSessionStatus
	TargetPlanID      int64
	AmountRequired    string // decimal, up to 78 digits
	TokenReceivedJSON *string
	CreatedAt         time.Time
	CompletedAt       *time.Time
	ExpiresAt         time.Time
	TokenID           []byte
	TokenType         []byte
}

// ShardConfigRecord mirrors the shard_config table.
type ShardConfigRecord struct {
	ID         int32
	ConfigJSON string
	CreatedAt  time.Time
	CreatedBy  string
}
