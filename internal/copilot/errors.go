package copilot

import (
	"errors"
	"fmt"

	"github.com/porticohq/portico/internal/quota"
)

// ErrNoAccessibleScope means the subject holds no usable portal grant at
// all. The HTTP layer maps it to 403 without revealing whether any project
// exists.
var ErrNoAccessibleScope = errors.New("subject has no accessible project scope")

// QuotaExhaustedError carries the ledger decision for a denied request so
// the HTTP layer can render limits and reset time.
type QuotaExhaustedError struct {
	Decision *quota.Decision
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("daily request limit reached (%d/%d for tier %s)",
		e.Decision.Used, e.Decision.Limit, e.Decision.Tier)
}

// ValidationError reports a malformed chat request.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}
