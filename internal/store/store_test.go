package store

import (
	"testing"
	"time"

	"github.com/lib/pq"
)

func TestClassifyPQErrorMapsLockConflict(t *testing.T) {
	err := &pq.Error{Code: lockConflictCode, Message: "could not obtain lock"}
	if got := classifyPQError(err); got != ErrLockConflict {
		t.Fatalf("expected ErrLockConflict, got %v", got)
	}
}

func TestClassifyPQErrorPassesThroughOtherCodes(t *testing.T) {
	err := &pq.Error{Code: "23505", Message: "duplicate key"}
	got := classifyPQError(err)
	if got == ErrLockConflict {
		t.Fatalf("unique-violation must not be classified as a lock conflict")
	}
	if got != err {
		t.Fatalf("expected the original error to pass through unchanged, got %v", got)
	}
}

func TestClassifyPQErrorNil(t *testing.T) {
	if classifyPQError(nil) != nil {
		t.Fatalf("expected nil in, nil out")
	}
}

func TestAPIKeyUsable(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	planID := int64(3)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	cases := []struct {
		name string
		key  APIKey
		want bool
	}{
		{"active with plan no expiry", APIKey{Status: StatusActive, PricingPlanID: &planID}, true},
		{"revoked", APIKey{Status: StatusRevoked, PricingPlanID: &planID}, false},
		{"no plan", APIKey{Status: StatusActive}, false},
		{"expired", APIKey{Status: StatusActive, PricingPlanID: &planID, ActiveUntil: &past}, false},
		{"future expiry", APIKey{Status: StatusActive, PricingPlanID: &planID, ActiveUntil: &future}, true},
	}
	for _, tc := range cases {
		if got := tc.key.Usable(now); got != tc.want {
			t.Errorf("%s: Usable() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
