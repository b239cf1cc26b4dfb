package protoerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFatalNil(t *testing.T) {
	assert.False(t, IsFatal(nil))
}

func TestIsFatalHeaderAndBodyIncompleteAreNotFatal(t *testing.T) {
	assert.False(t, IsFatal(ErrHeaderIncomplete))
	assert.False(t, IsFatal(ErrBodyIncomplete))
	assert.False(t, IsFatal(fmt.Errorf("wrapped: %w", ErrHeaderIncomplete)))
}

func TestIsFatalEverythingElseIsFatal(t *testing.T) {
	fatal := []error{
		ErrMagicMismatch,
		ErrUnknownCommand,
		ErrInvalidChecksum,
		ErrDuplicateHandshake,
		ErrPingTimeout,
		ErrTransportClosed,
		errors.New("some unrelated error"),
	}
	for _, err := range fatal {
		assert.True(t, IsFatal(err), "expected %v to be fatal", err)
	}
}

func TestSentinelsAreDistinctAndMatchableWithErrorsIs(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", ErrDuplicateHandshake)
	assert.ErrorIs(t, wrapped, ErrDuplicateHandshake)
	assert.NotErrorIs(t, wrapped, ErrInvalidHandshake)
}
