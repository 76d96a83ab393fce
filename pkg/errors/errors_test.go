package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidationErrorCarriesContractInfo(t *testing.T) {
	t.Parallel()

	err := NewValidationError(CodeMissingDep, `stage "b" depends on unknown stage "a"`, nil)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, CodeMissingDep, verr.Code)
	require.NotNil(t, verr.Info)
	require.Equal(t, CodeMissingDep, verr.Info.Code)
	require.NotEmpty(t, verr.Info.FixHint)
	require.Contains(t, err.Error(), CodeMissingDep)
}

func TestCycleErrorFormatsPath(t *testing.T) {
	t.Parallel()

	err := NewCycleError([]string{"a", "b", "c", "a"})

	var cerr *CycleError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, CodeCycle, cerr.Code)
	require.Equal(t, []string{"a", "b", "c", "a"}, cerr.CyclePath)
	require.Contains(t, err.Error(), "a -> b -> c -> a")
}

func TestExecutionErrorUnwraps(t *testing.T) {
	t.Parallel()

	root := fmt.Errorf("boom")
	err := NewExecutionError("fetch", root)

	require.ErrorIs(t, err, root)
	require.Contains(t, err.Error(), "fetch")
}

func TestBagErrors(t *testing.T) {
	t.Parallel()

	require.Contains(t, NewDataConflictError("k").Error(), `"k"`)
	require.Contains(t, NewOutputConflictError("s", 2).Error(), "attempt 2")
	require.Contains(t, NewUndeclaredDependencyError("s", "d").Error(), `"d"`)
}

func TestToolApprovalTimeoutError(t *testing.T) {
	t.Parallel()

	err := NewToolApprovalTimeoutError("send_email", "req-1", 100*time.Millisecond)

	var terr *ToolApprovalTimeoutError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, "req-1", terr.RequestID)
	require.Equal(t, 100*time.Millisecond, terr.Timeout)
}

func TestToolApprovalDeniedErrorHasNoRequestID(t *testing.T) {
	t.Parallel()

	err := NewToolApprovalDeniedError("send_email")

	var derr *ToolApprovalDeniedError
	require.ErrorAs(t, err, &derr)
	require.NotContains(t, err.Error(), "request")
}

func TestLookupContractUnknownCode(t *testing.T) {
	t.Parallel()

	require.Nil(t, LookupContract("CONTRACT-999-NOPE"))
}

func TestPipelineCancelledError(t *testing.T) {
	t.Parallel()

	err := NewPipelineCancelledError("user-request")
	var cerr *PipelineCancelledError
	require.True(t, errors.As(err, &cerr))
	require.Equal(t, "user-request", cerr.Reason)
}
