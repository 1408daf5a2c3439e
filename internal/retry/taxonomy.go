// Package retry maps transport failures to the retryable/terminal taxonomy
// from spec.md 4.1. Neither the scheduler nor the client worker calls
// IsRetryable; a failed job run is not retried before its next trigger.
package retry

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// retryableCodes is the exact set spec.md 4.1 names as retryable.
var retryableCodes = map[codes.Code]bool{
	codes.Unavailable:       true,
	codes.DeadlineExceeded:  true,
	codes.ResourceExhausted: true,
	codes.DataLoss:          true,
	codes.Cancelled:         true,
	codes.Aborted:           true,
	codes.PermissionDenied:  true,
	codes.Unauthenticated:   true,
}

// IsRetryable classifies err per the retryability taxonomy. A nil error is
// not retryable (there is nothing to retry).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		// Not a status error (e.g. a wrapped local error) — treat as terminal,
		// the taxonomy only classifies transport-level failures.
		return false
	}
	return retryableCodes[st.Code()]
}
