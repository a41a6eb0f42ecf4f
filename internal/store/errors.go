package store

import (
	"fmt"

	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
)

// networkError wraps err so callers can match types.ErrNetworkFailure.
func networkError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", types.ErrNetworkFailure, op, err)
}
