// Package broker integrates the consumed brokerage provider. LIVE mode
// talks to Kite Connect; DRY_RUN serves deterministic static holdings so
// the pipeline runs without credentials.
package broker

import (
	"errors"

	"portfolio-sentinel/internal/interfaces"
)

// ErrAuthExpired means the brokerage session token is no longer valid.
// Fatal to the current session; the caller must force re-authentication.
var ErrAuthExpired = errors.New("brokerage session expired")

// ErrRateLimited means the brokerage throttled us. Non-fatal.
var ErrRateLimited = errors.New("brokerage rate limited")

// Params configures a broker instance.
type Params struct {
	Mode        string // DRY_RUN or LIVE
	APIKey      string
	AccessToken string
}

// New returns the broker implementation for the configured mode.
func New(p Params) interfaces.Broker {
	if p.Mode == "LIVE" {
		return newKite(p)
	}
	return newStatic()
}
