// Package captcha defines the CAPTCHA-solving oracle contract and its
// implementations. The oracle is a black box: given a challenge site key and
// the page URL it was served on, it eventually returns a solution token or
// fails.
package captcha

import (
	"context"
	"errors"
	"fmt"
)

// Challenge describes one anti-bot interstitial to solve.
type Challenge struct {
	// Type is the challenge family, e.g. "recaptcha-v2".
	Type string
	// SiteKey is the site-wide public key embedded in the challenge form.
	SiteKey string
	// PageURL is the URL of the page the challenge was served on.
	PageURL string
	// Enterprise marks reCAPTCHA Enterprise challenges (NY uses these).
	Enterprise bool
}

// Solver is the solving oracle. Solve blocks until a token is available or
// the context/deadline expires; it can take tens of seconds.
type Solver interface {
	Solve(ctx context.Context, ch Challenge) (string, error)
}

// TransientError marks oracle failures worth retrying (queue full, solver
// timeout, unsolvable report). Permanent failures such as a rejected API key
// are returned as plain errors.
type TransientError struct {
	Reason string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("captcha solve failed (transient): %s", e.Reason)
}

// IsTransient reports whether err is a retryable oracle failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// NoOpSolver returns a fixed token without contacting any service. Useful for
// dry runs against mirrors that accept any token.
type NoOpSolver struct {
	Token string
}

// Solve returns the configured token.
func (s *NoOpSolver) Solve(_ context.Context, _ Challenge) (string, error) {
	if s.Token == "" {
		return "noop-captcha-token", nil
	}
	return s.Token, nil
}
