package fault

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPersistence_MatchesKindAndCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Persistence("store message", cause)

	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "store message")
	assert.Contains(t, err.Error(), "disk full")
}

func TestPersistence_NilPassthrough(t *testing.T) {
	assert.NoError(t, Persistence("noop", nil))
}

func TestValidationAndTransition(t *testing.T) {
	err := Validation("progress %d out of range", 120)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "120")

	err = Transition("conflict", "resolved", "escalated")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "resolved -> escalated")
}
