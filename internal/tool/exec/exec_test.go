package exec

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	domain "github.com/agentdag/agentdag/internal/domain/engine"
	"github.com/agentdag/agentdag/internal/tool"
)

func TestInvokeRefusesWithoutShellPermission(t *testing.T) {
	t.Parallel()

	a := New(tool.Permissions{AllowShell: false})
	_, err := a.Invoke(context.Background(), map[string]interface{}{"command": "echo hi"})

	require.Error(t, err)
	var derr *domain.Error
	require.True(t, errors.As(err, &derr))
	require.Equal(t, domain.ErrSecurity, derr.Kind)
}

func TestInvokeRequiresCommand(t *testing.T) {
	t.Parallel()

	a := New(tool.Permissions{AllowShell: true})
	_, err := a.Invoke(context.Background(), map[string]interface{}{})

	require.Error(t, err)
	var derr *domain.Error
	require.True(t, errors.As(err, &derr))
	require.Equal(t, domain.ErrValidation, derr.Kind)
}

func TestInvokeRunsCommandAndCapturesOutput(t *testing.T) {
	t.Parallel()

	a := New(tool.Permissions{AllowShell: true})
	out, err := a.Invoke(context.Background(), map[string]interface{}{"command": "echo hello"})

	require.NoError(t, err)
	require.Equal(t, "hello", out["stdout"])
	require.Equal(t, 0, out["exit_code"])
}

func TestInvokeSurfacesNonZeroExit(t *testing.T) {
	t.Parallel()

	a := New(tool.Permissions{AllowShell: true})
	_, err := a.Invoke(context.Background(), map[string]interface{}{"command": "exit 3"})

	require.Error(t, err)
	var derr *domain.Error
	require.True(t, errors.As(err, &derr))
	require.Equal(t, domain.ErrTool, derr.Kind)
}
