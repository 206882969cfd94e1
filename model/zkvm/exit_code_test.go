package zkvm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elcsa030/zero/model/zkvm"
)

func TestExitCodePairRoundTrip(t *testing.T) {
	for _, code := range []zkvm.ExitCode{
		zkvm.Halted(0),
		zkvm.Halted(17),
		zkvm.Paused(0),
		zkvm.Paused(3),
		zkvm.SystemSplit,
		zkvm.Fault,
	} {
		sys, user, err := code.Pair()
		require.NoError(t, err, code.String())

		decoded, err := zkvm.ExitCodeFromPair(sys, user)
		require.NoError(t, err)
		assert.Equal(t, code, decoded)
	}
}

func TestExitCodePairRejectsSessionLimit(t *testing.T) {
	_, _, err := zkvm.SessionLimit.Pair()
	assert.Error(t, err)
}

func TestExitCodeFromPairRejectsUnknown(t *testing.T) {
	_, err := zkvm.ExitCodeFromPair(4, 0)
	assert.Error(t, err)
}

func TestExitCodeClassification(t *testing.T) {
	assert.True(t, zkvm.Halted(0).IsSessionTerminal())
	assert.True(t, zkvm.Paused(1).IsSessionTerminal())
	assert.True(t, zkvm.Fault.IsSessionTerminal())
	assert.False(t, zkvm.SystemSplit.IsSessionTerminal())
	assert.False(t, zkvm.SessionLimit.IsSessionTerminal())

	assert.True(t, zkvm.Halted(0).ExpectsOutput())
	assert.True(t, zkvm.Paused(0).ExpectsOutput())
	assert.False(t, zkvm.SystemSplit.ExpectsOutput())
	assert.False(t, zkvm.Fault.ExpectsOutput())
}
