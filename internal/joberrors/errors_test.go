package joberrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifiedError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	classified := Transient(cause)

	require.ErrorIs(t, classified, cause)
	assert.Equal(t, KindTransient, classified.Kind)
	assert.Contains(t, classified.Error(), "transient")
	assert.Contains(t, classified.Error(), "connection reset")
}

func TestPermanent_Kind(t *testing.T) {
	classified := Permanentf("mailbox %s does not exist", "nobody@example.com")

	assert.Equal(t, KindPermanent, classified.Kind)
	assert.Contains(t, classified.Error(), "permanent")
}

func TestPersistenceError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Persistence("claim_next", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "claim_next")
}
