package checks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunUnknownCheckSkipsWithoutError(t *testing.T) {
	port := NewSubprocess(nil)
	res, err := port.Run(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, res.Passed)
	require.True(t, res.Skipped)
	require.Equal(t, "unknown check", res.Details)
}

func TestRunSucceeds(t *testing.T) {
	port := NewSubprocess(map[string]Command{
		"echo": {Name: "echo", Path: "/bin/echo", Args: []string{"ok"}},
	})
	res, err := port.Run(context.Background(), "echo")
	require.NoError(t, err)
	require.True(t, res.Passed)
	require.Equal(t, "ok", res.Details)
}

func TestRunFailureCapturesStderr(t *testing.T) {
	port := NewSubprocess(map[string]Command{
		"fail": {Name: "fail", Path: "/bin/sh", Args: []string{"-c", "echo boom 1>&2; exit 1"}},
	})
	res, err := port.Run(context.Background(), "fail")
	require.NoError(t, err)
	require.False(t, res.Passed)
	require.Equal(t, "boom", res.Details)
}
