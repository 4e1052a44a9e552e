package shell

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunForegroundCapturesStdout(t *testing.T) {
	res, err := RunForeground(context.Background(), ForegroundOptions{Command: "echo hello"})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, ReasonExit, res.Reason)
	require.Equal(t, "hello\n", string(res.Stdout))
	require.False(t, res.TimedOut)
	require.False(t, res.Killed)
}

func TestRunForegroundCapturesNonZeroExit(t *testing.T) {
	res, err := RunForeground(context.Background(), ForegroundOptions{Command: "exit 7"})
	require.NoError(t, err)
	require.Equal(t, 7, res.ExitCode)
}

func TestRunForegroundEnforcesDeadline(t *testing.T) {
	res, err := RunForeground(context.Background(), ForegroundOptions{
		Command:     "sleep 5",
		Deadline:    200 * time.Millisecond,
		GracePeriod: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	require.True(t, res.TimedOut)
	require.True(t, res.Killed)
	require.Equal(t, ReasonTimeout, res.Reason)
}

func TestRunForegroundHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res, err := RunForeground(ctx, ForegroundOptions{Command: "sleep 5"})
	require.NoError(t, err)
	require.True(t, res.Killed)
	require.False(t, res.TimedOut)
}

func TestRunForegroundRejectsDangerousCommand(t *testing.T) {
	_, err := RunForeground(context.Background(), ForegroundOptions{Command: "rm -rf /"})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "danger"))
}
