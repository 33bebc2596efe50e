package billing_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/warp/franchise-billing/billing"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		client    bool
		notFound  bool
	}{
		{"validation", &billing.ValidationError{Field: "month", Message: "out of range"}, false, true, false},
		{"transition", &billing.InvalidStateTransitionError{Operation: billing.OpMarkPaid}, false, true, false},
		{"duplicate", &billing.DuplicateObligationError{ExistingID: "obl_1"}, false, true, false},
		{"idempotency", billing.ErrDuplicateIdempotencyKey, false, true, false},
		{"conflict", errors.Wrap(billing.ErrConcurrentModification, "update"), true, false, false},
		{"lock", billing.ErrLockNotObtained, true, false, false},
		{"not found", errors.Wrap(billing.ErrNotFound, "get"), false, false, true},
		{"other", errors.New("disk full"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, billing.IsRetryable(tt.err))
			assert.Equal(t, tt.client, billing.IsClientError(tt.err))
			assert.Equal(t, tt.notFound, billing.IsNotFound(tt.err))
		})
	}
}
