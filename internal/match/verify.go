package match

import (
	"context"
	"log"
	"time"
)

// Verifier is the optional external check that confirms technical
// compatibility between an item text and a product name. It catches the
// synonym and equipment-vs-reagent cases the token heuristics miss.
type Verifier interface {
	VerifyMatch(ctx context.Context, itemText, productName string) (bool, error)
}

const (
	verifyAttempts     = 3
	verifyInitialDelay = 2 * time.Second
)

// VerifyAccepted confirms a candidate at or above the acceptance
// threshold. Fail-closed: a verifier error after retries rejects the
// match, because a false positive costs more here than a missed one.
func (e *Engine) VerifyAccepted(ctx context.Context, verifier Verifier, itemText, productName string, score int) bool {
	if score < e.cfg.AcceptThreshold {
		return false
	}
	if verifier == nil {
		return true
	}

	delay := verifyInitialDelay
	for attempt := 1; attempt <= verifyAttempts; attempt++ {
		ok, err := verifier.VerifyMatch(ctx, itemText, productName)
		if err == nil {
			return ok
		}
		log.Printf("[Match] verification attempt %d/%d failed for %q: %v", attempt, verifyAttempts, productName, err)
		if attempt == verifyAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		delay *= 2
	}
	return false
}
