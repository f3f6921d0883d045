package payment

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/aggregatorclient"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/apierr"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/keycache"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/metrics"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/store"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/timeutil"
)

// Settings controls the fixed parameters of the payment workflow, sourced
// from internal/config at wiring time.
type Settings struct {
	SessionTTL       time.Duration
	MinimumPayment   *big.Int
	PlanDuration     time.Duration
	AcceptWait       time.Duration
	ProofWait        time.Duration
	ServerSecret     []byte
}

// Service implements spec.md §4.6's PaymentService operations.
type Service struct {
	keys     *store.KeyStore
	sessions *store.PaymentStore
	cache    *keycache.Cache
	agg      aggregatorclient.Client
	clock    timeutil.Meter
	settings Settings
	log      *logrus.Entry
}

// New constructs a payment Service.
func New(keys *store.KeyStore, sessions *store.PaymentStore, cache *keycache.Cache, agg aggregatorclient.Client, clk timeutil.Meter, settings Settings) *Service {
	return &Service{
		keys: keys, sessions: sessions, cache: cache, agg: agg, clock: clk,
		settings: settings, log: logrus.WithField("component", "payment"),
	}
}

// ListPlans returns every available pricing plan for the public
// GET /api/payment/plans listing.
func (s *Service) ListPlans(ctx context.Context) ([]store.PricingPlan, error) {
	plans, err := s.keys.ListPlans(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "list pricing plans", err)
	}
	return plans, nil
}

// InitiateRequest is the body of POST /api/payment/initiate.
type InitiateRequest struct {
	APIKey       string
	TargetPlanID int64
	TokenID      []byte
	TokenType    []byte
}

// InitiateResult is the response of initiate.
type InitiateResult struct {
	SessionID      string
	PaymentAddress string
	AmountRequired string
	ExpiresAt      time.Time
	APIKey         string // only set when a new key was minted
}

// Initiate creates a new pending payment session, per spec.md §4.6.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if req.TargetPlanID == 0 {
		return nil, apierr.New(apierr.KindBadRequest, "targetPlanId is required")
	}
	plan, err := s.keys.FindPlanByID(ctx, req.TargetPlanID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "look up pricing plan", err)
	}
	if plan == nil {
		return nil, apierr.New(apierr.KindBadRequest, "unknown target plan")
	}

	mintedKey := ""
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey, err = generateAPIKey()
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "generate api key", err)
		}
		if _, err := s.keys.CreateKey(ctx, apiKey, "auto-provisioned via payment initiate"); err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "create api key", err)
		}
		mintedKey = apiKey
	} else {
		existing, err := s.keys.FindByAPIKey(ctx, apiKey)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "look up api key", err)
		}
		if existing == nil {
			return nil, apierr.New(apierr.KindBadRequest, "unknown api key")
		}
		if existing.Status == store.StatusRevoked {
			return nil, apierr.New(apierr.KindBadRequest, "api key is revoked")
		}
	}

	var result *InitiateResult
	err = s.sessions.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.keys.LockForUpdate(ctx, tx, apiKey)
		if err != nil {
			if err == store.ErrLockConflict {
				return apierr.New(apierr.KindLockConflict, "concurrent payment already in progress for this key")
			}
			return apierr.Wrap(apierr.KindInternal, "lock api key row", err)
		}

		nonce := make([]byte, 32)
		if _, err := rand.Read(nonce); err != nil {
			return apierr.Wrap(apierr.KindInternal, "generate receiver nonce", err)
		}

		address, err := s.agg.DeriveReceiveAddress(s.settings.ServerSecret, nonce, req.TokenID, req.TokenType)
		if err != nil {
			return apierr.Wrap(apierr.KindInternal, "derive receive address", err)
		}

		now := s.clock.Now()
		amount := s.computeAmountDue(ctx, existing, plan, now)

		expiresAt := now.Add(s.settings.SessionTTL)
		sess := store.PaymentSession{
			APIKey:         apiKey,
			PaymentAddress: address,
			ReceiverNonce:  nonce,
			TargetPlanID:   req.TargetPlanID,
			AmountRequired: amount.String(),
			CreatedAt:      now,
			ExpiresAt:      expiresAt,
			TokenID:        req.TokenID,
			TokenType:      req.TokenType,
		}
		id, err := s.sessions.CreateSessionAtomicallyCancellingPrevious(ctx, tx, sess)
		if err != nil {
			return apierr.Wrap(apierr.KindInternal, "create payment session", err)
		}

		result = &InitiateResult{
			SessionID:      id,
			PaymentAddress: address,
			AmountRequired: amount.String(),
			ExpiresAt:      expiresAt,
			APIKey:         mintedKey,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// computeAmountDue reads the key's current plan (if any) and applies the
// unused-portion discount against the target plan's current price.
func (s *Service) computeAmountDue(ctx context.Context, key *store.APIKey, targetPlan *store.PricingPlan, now time.Time) *big.Int {
	targetPrice, ok := new(big.Int).SetString(targetPlan.Price, 10)
	if !ok {
		targetPrice = big.NewInt(0)
	}
	minimum := s.settings.MinimumPayment

	var currentPrice *big.Int
	var activeUntilMillis *int64
	if key != nil && key.PricingPlanID != nil && key.ActiveUntil != nil {
		if currentPlan, err := s.keys.FindPlanByID(ctx, *key.PricingPlanID); err == nil && currentPlan != nil {
			if p, ok := new(big.Int).SetString(currentPlan.Price, 10); ok {
				currentPrice = p
				ms := key.ActiveUntil.UnixMilli()
				activeUntilMillis = &ms
			}
		}
	}

	nowMillis := now.UnixMilli()
	return computeAmountRequired(targetPrice, currentPrice, activeUntilMillis, nowMillis, minimum)
}

// CompleteRequest is the body of POST /api/payment/complete.
type CompleteRequest struct {
	SessionID               string
	Salt                    []byte
	TransferCommitmentJSON  json.RawMessage
	SourceTokenJSON         json.RawMessage
}

// CompleteResult is the response of complete.
type CompleteResult struct {
	Success   bool
	Message   string
	NewPlanID int64
	APIKey    string
}

// Complete finalizes a pending session, per spec.md §4.6.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (*CompleteResult, error) {
	sess, err := s.sessions.FindByID(ctx, req.SessionID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "look up payment session", err)
	}
	if sess == nil {
		return nil, apierr.New(apierr.KindBadRequest, "Invalid session ID")
	}

	now := s.clock.Now()
	if sess.Status != store.SessionPending {
		return nil, apierr.New(apierr.KindPaymentNotPending, "Session is not pending")
	}
	if now.After(sess.ExpiresAt) {
		_ = s.sessions.WithTx(ctx, func(tx *sql.Tx) error {
			return s.sessions.UpdateStatus(ctx, tx, sess.ID, store.SessionExpired, nil, nil)
		})
		return nil, apierr.New(apierr.KindPaymentNotPending, "Session is not pending")
	}

	outcome, err := s.agg.SubmitCommitment(ctx, aggregatorclient.TransferCommitment{Raw: req.TransferCommitmentJSON}, s.settings.AcceptWait, s.settings.ProofWait)
	if err != nil || !outcome.Accepted || !outcome.Included {
		s.markFailed(ctx, sess.ID, nil)
		return &CompleteResult{Success: false, Message: "commitment was not accepted"}, nil
	}

	token, err := s.agg.FinalizeReceive(ctx, req.SourceTokenJSON, sess.ReceiverNonce)
	if err != nil {
		s.markFailed(ctx, sess.ID, nil)
		return &CompleteResult{Success: false, Message: "token verification failed"}, nil
	}
	tokenJSON := string(token.Raw)

	required, ok := new(big.Int).SetString(sess.AmountRequired, 10)
	if !ok {
		required = big.NewInt(0)
	}
	received, ok := new(big.Int).SetString(token.CoinAmount, 10)
	if !ok {
		received = big.NewInt(0)
	}
	if received.Cmp(required) < 0 {
		s.markFailed(ctx, sess.ID, &tokenJSON)
		return &CompleteResult{Success: false, Message: "Insufficient payment amount"}, nil
	}

	activeUntil := now.Add(s.settings.PlanDuration)
	err = s.sessions.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.keys.UpgradeKeyTx(ctx, tx, sess.APIKey, sess.TargetPlanID, activeUntil); err != nil {
			return apierr.Wrap(apierr.KindInternal, "upgrade api key", err)
		}
		completedAt := now
		if err := s.sessions.UpdateStatus(ctx, tx, sess.ID, store.SessionCompleted, &completedAt, &tokenJSON); err != nil {
			return apierr.Wrap(apierr.KindInternal, "complete payment session", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(sess.APIKey)
	metrics.PaymentSessionsTotal.WithLabelValues(string(store.SessionCompleted)).Inc()
	return &CompleteResult{Success: true, NewPlanID: sess.TargetPlanID, APIKey: sess.APIKey}, nil
}

func (s *Service) markFailed(ctx context.Context, sessionID string, tokenJSON *string) {
	err := s.sessions.WithTx(ctx, func(tx *sql.Tx) error {
		return s.sessions.UpdateStatus(ctx, tx, sessionID, store.SessionFailed, nil, tokenJSON)
	})
	if err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Warn("failed to mark payment session failed")
		return
	}
	metrics.PaymentSessionsTotal.WithLabelValues(string(store.SessionFailed)).Inc()
}

// StatusResult projects a session for GET /api/payment/session/{id}.
type StatusResult struct {
	ID             string
	Status         string
	AmountRequired string
	CreatedAt      time.Time
	CompletedAt    *time.Time
	ExpiresAt      time.Time
}

// GetPaymentStatus reads a session's public status projection.
func (s *Service) GetPaymentStatus(ctx context.Context, sessionID string) (*StatusResult, error) {
	sess, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "look up payment session", err)
	}
	if sess == nil {
		return nil, apierr.New(apierr.KindNotFound, "unknown session")
	}
	return &StatusResult{
		ID: sess.ID, Status: string(sess.Status), AmountRequired: sess.AmountRequired,
		CreatedAt: sess.CreatedAt, CompletedAt: sess.CompletedAt, ExpiresAt: sess.ExpiresAt,
	}, nil
}

// KeyDetails is the response shape for GET /api/payment/key/{apiKey}.
type KeyDetails struct {
	Status      string
	ExpiresAt   *time.Time
	PricingPlan *store.PricingPlan
}

// GetKeyDetails returns a public projection of an api key's plan state.
func (s *Service) GetKeyDetails(ctx context.Context, apiKey string) (*KeyDetails, error) {
	key, err := s.keys.FindByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "look up api key", err)
	}
	if key == nil || key.Status == store.StatusRevoked {
		return nil, apierr.New(apierr.KindNotFound, "unknown api key")
	}

	details := &KeyDetails{Status: string(key.Status), ExpiresAt: key.ActiveUntil}
	if key.PricingPlanID != nil {
		plan, err := s.keys.FindPlanByID(ctx, *key.PricingPlanID)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "look up pricing plan", err)
		}
		details.PricingPlan = plan
	}
	return details, nil
}

// generateAPIKey mints "sk_" + 32 lowercase hex chars derived from a fresh
// v4 UUID, per spec.md §4.6.
func generateAPIKey() (string, error) {
	id := uuid.New()
	return "sk_" + strings.ToLower(hex.EncodeToString(id[:])), nil
}
