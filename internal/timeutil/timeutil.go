// Package timeutil re-exports the injectable time source used across the
// proxy so tests can fast-forward past token-bucket refills and payment
// session expiries without sleeping.
package timeutil

import "github.com/benbjohnson/clock"

// Meter is the time abstraction every clock-sensitive component (the rate
// limiter, the config poller, the payment service) depends on instead of
// calling time.Now or time.NewTicker directly.
type Meter = clock.Clock

// System is the production time meter, backed by the real wall clock.
var System Meter = clock.New()

// NewMock returns a controllable Meter for deterministic tests. Advance it
// with Mock.Add to simulate refills and expiries.
func NewMock() *clock.Mock {
	return clock.NewMock()
}
