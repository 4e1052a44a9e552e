package shell

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitForTerminal(t *testing.T, s *Supervisor, id string, timeout time.Duration) BackgroundTask {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		task, ok := s.Get(id)
		require.True(t, ok)
		if task.Status.Terminal() {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task did not reach a terminal state in time")
	return BackgroundTask{}
}

func TestSupervisorLaunchAndCompletion(t *testing.T) {
	s := NewSupervisor(0)
	id, err := s.Launch(context.Background(), ForegroundOptions{Command: "echo background"})
	require.NoError(t, err)

	task := waitForTerminal(t, s, id, 2*time.Second)
	require.Equal(t, TaskCompleted, task.Status)

	out, err := s.BashOutput(id, nil)
	require.NoError(t, err)
	require.Equal(t, "background\n", out.Stdout)
}

func TestSupervisorKillShell(t *testing.T) {
	s := NewSupervisor(0)
	id, err := s.Launch(context.Background(), ForegroundOptions{Command: "sleep 5"})
	require.NoError(t, err)

	require.NoError(t, s.KillShell(id))

	task := waitForTerminal(t, s, id, 2*time.Second)
	require.Equal(t, TaskKilled, task.Status)
}

func TestSupervisorKillShellRejectsNonRunningTask(t *testing.T) {
	s := NewSupervisor(0)
	id, err := s.Launch(context.Background(), ForegroundOptions{Command: "echo done"})
	require.NoError(t, err)
	waitForTerminal(t, s, id, 2*time.Second)

	err = s.KillShell(id)
	require.Error(t, err)
}

func TestSupervisorBashOutputUnknownTask(t *testing.T) {
	s := NewSupervisor(0)
	_, err := s.BashOutput("does-not-exist", nil)
	require.Error(t, err)
}

func TestSupervisorReapRemovesOldTerminalTasks(t *testing.T) {
	s := NewSupervisor(time.Minute)
	id, err := s.Launch(context.Background(), ForegroundOptions{Command: "echo done"})
	require.NoError(t, err)
	waitForTerminal(t, s, id, 2*time.Second)

	removed := s.Reap(time.Now())
	require.Equal(t, 0, removed, "task is not yet older than reapAge")

	removed = s.Reap(time.Now().Add(2 * time.Minute))
	require.Equal(t, 1, removed)

	_, ok := s.Get(id)
	require.False(t, ok)
}
