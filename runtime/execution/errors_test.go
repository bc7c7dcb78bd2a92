package execution

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
)

func TestGuardError(t *testing.T) {
	tests := []struct {
		status Status
		want   error
	}{
		{StatusCompleted, ErrAlreadyCompleted},
		{StatusCanceled, ErrAlreadyCanceled},
		{StatusTerminated, ErrAlreadyTerminated},
		{StatusFailed, ErrAlreadyFailed},
		{StatusTimedOut, ErrAlreadyTimedOut},
	}
	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			err := GuardError("job-1", tc.status)
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, err, ErrAlreadyClosed)
			assert.Contains(t, err.Error(), `"job-1"`)
		})
	}

	assert.NoError(t, GuardError("job-1", StatusRunning))
	assert.NoError(t, GuardError("job-1", StatusContinuedAsNew))
	assert.NoError(t, GuardError("job-1", StatusUnspecified))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{
		Kind:     ErrConnection,
		Address:  "localhost:7233",
		Attempts: 3,
		Err:      errors.New("connection refused"),
	}
	assert.EqualError(t, err, "workflow engine unreachable at localhost:7233 after 3 attempts: connection refused")

	err = &Error{Kind: ErrClassInvalid, Unit: "Plain", Base: "unit.Worker"}
	assert.EqualError(t, err, `invalid unit implementation (unit "Plain", expected unit.Worker)`)
}

func TestErrorUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("outer: %w", &Error{Kind: ErrStart, Unit: "AddUnit", Err: cause})

	require.ErrorIs(t, err, ErrStart)
	require.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrAlreadyClosed)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "AddUnit", e.Unit)
}

func TestCode(t *testing.T) {
	assert.Equal(t, "not_registered", Code(&Error{Kind: ErrNotRegistered}))
	assert.Equal(t, "already_canceled", Code(GuardError("x", StatusCanceled)))
	assert.Equal(t, "connection_error", Code(fmt.Errorf("wrapped: %w", &Error{Kind: ErrConnection})))
	assert.Equal(t, "internal", Code(errors.New("plain")))
	assert.Equal(t, "internal", Code(&Error{Kind: errors.New("unknown")}))
}

func TestStatus(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCanceled, StatusTerminated, StatusTimedOut} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []Status{StatusRunning, StatusContinuedAsNew, StatusUnspecified} {
		assert.False(t, s.Terminal(), s)
	}

	assert.Equal(t, StatusTimedOut, StatusFromEngine(enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT))
	assert.Equal(t, StatusUnspecified, StatusFromEngine(enumspb.WORKFLOW_EXECUTION_STATUS_UNSPECIFIED))
	assert.Equal(t, "ContinuedAsNew", StatusContinuedAsNew.VisibilityName())

	s, err := ParseStatus("CANCELED")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, s)
	_, err = ParseStatus("canceled")
	assert.Error(t, err)
}

func TestNewIDIsPrefixedAndUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewID("AddUnit")
		require.Regexp(t, `^AddUnit-[0-9a-f-]{36}$`, id)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}
