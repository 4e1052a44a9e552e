package shell

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/core/internal/buffer"
	"github.com/agentcore/core/internal/corerr"
)

// TaskStatus is the per-task state machine of spec.md §3/§4.E: running is
// the only non-terminal state.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskKilled    TaskStatus = "killed"
)

func (s TaskStatus) Terminal() bool { return s != TaskRunning }

const (
	defaultReapMaxAge = time.Hour
	defaultTailCap    = 30 * 1024 // ~30 KiB, per §4.E BashOutput truncation default
)

// BackgroundTask is the Background Task table row of spec.md §3.
type BackgroundTask struct {
	ID        string
	Command   string
	Status    TaskStatus
	StartedAt time.Time
	EndedAt   time.Time
	ExitCode  int
	Signal    string
	Reason    TerminationReason

	stdout *buffer.Bounded
	stderr *buffer.Bounded

	cancel context.CancelFunc
}

// Supervisor owns the Background Task table and the periodic reaper, per
// spec.md §4.E. Grounded on the supplementary pack's ProcessRegistry
// (haasonsaas-nexus), generalized to the task shape of this spec.
type Supervisor struct {
	mu      sync.Mutex
	tasks   map[string]*BackgroundTask
	reapAge time.Duration
}

// NewSupervisor constructs an empty task table. reapAge<=0 uses the
// default (1 hour).
func NewSupervisor(reapAge time.Duration) *Supervisor {
	if reapAge <= 0 {
		reapAge = defaultReapMaxAge
	}
	return &Supervisor{tasks: make(map[string]*BackgroundTask), reapAge: reapAge}
}

// Launch starts command in the background, returning its task id
// immediately; the caller observes progress via BashOutput and
// completion via Status.
func (s *Supervisor) Launch(ctx context.Context, opts ForegroundOptions) (string, error) {
	if IsDangerous(opts.Command) {
		return "", corerr.New(corerr.KindInvalidParameters, "shell", "command matches danger list").WithPhase("validate")
	}

	outCap := opts.OutputCap
	if outCap == 0 {
		outCap = defaultOutputCapacity
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)

	task := &BackgroundTask{
		ID:        id,
		Command:   opts.Command,
		Status:    TaskRunning,
		StartedAt: time.Now(),
		stdout:    buffer.New(outCap),
		stderr:    buffer.New(outCap),
		cancel:    cancel,
	}

	s.mu.Lock()
	s.tasks[id] = task
	s.mu.Unlock()

	go s.run(runCtx, task, opts)

	return id, nil
}

func (s *Supervisor) run(ctx context.Context, task *BackgroundTask, opts ForegroundOptions) {
	res, err := runForegroundInto(ctx, opts, task.stdout, task.stderr)

	s.mu.Lock()
	defer s.mu.Unlock()

	task.EndedAt = time.Now()
	task.ExitCode = res.ExitCode
	task.Signal = res.Signal
	task.Reason = res.Reason

	switch {
	case err != nil:
		task.Status = TaskFailed
	case res.Killed && (res.Reason == ReasonCancelled || res.Reason == ReasonKilledByCaller):
		task.Status = TaskKilled
	case res.TimedOut:
		task.Status = TaskFailed
	case res.ExitCode != 0:
		task.Status = TaskFailed
	default:
		task.Status = TaskCompleted
	}
}

// BashOutputResult is the snapshot returned by BashOutput.
type BashOutputResult struct {
	Status    TaskStatus
	Stdout    string
	Stderr    string
	Truncated bool
	ExitCode  int
	Signal    string
}

// BashOutput retrieves the task's current output without disturbing its
// running state, applying an optional line-regex filter before
// truncation (Open Question 2's resolution: filter first, then bound the
// result size), per spec.md §4.E.
func (s *Supervisor) BashOutput(id string, filter *regexp.Regexp) (BashOutputResult, error) {
	s.mu.Lock()
	task, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return BashOutputResult{}, corerr.New(corerr.KindInvalidParameters, "shell", "no such task").WithPhase("resolve")
	}

	stdout := applyLineFilter(task.stdout.Snapshot(), filter)
	stderr := applyLineFilter(task.stderr.Snapshot(), filter)

	out, truncOut := truncateTail(stdout, defaultTailCap)
	errOut, truncErr := truncateTail(stderr, defaultTailCap)

	return BashOutputResult{
		Status:    task.Status,
		Stdout:    out,
		Stderr:    errOut,
		Truncated: truncOut || truncErr,
		ExitCode:  task.ExitCode,
		Signal:    task.Signal,
	}, nil
}

// KillShell terminates a running background task via SIGTERM escalating
// to SIGKILL, per spec.md §4.E. It is an error to kill a task that is not
// currently running.
func (s *Supervisor) KillShell(id string) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return corerr.New(corerr.KindInvalidParameters, "shell", "no such task").WithPhase("resolve")
	}
	if task.Status != TaskRunning {
		return corerr.New(corerr.KindInvalidParameters, "shell", "task is not running").WithPhase("validate")
	}
	task.cancel()
	return nil
}

// Get returns a copy of the task's current bookkeeping fields (excluding
// buffers), or false if no such task exists.
func (s *Supervisor) Get(id string) (BackgroundTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return BackgroundTask{}, false
	}
	cp := *task
	cp.stdout = nil
	cp.stderr = nil
	cp.cancel = nil
	return cp, true
}

// Reap removes terminal tasks older than the supervisor's reap age,
// returning the number removed. Intended to be called periodically by a
// caller-owned ticker.
func (s *Supervisor) Reap(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, task := range s.tasks {
		if task.Status.Terminal() && now.Sub(task.EndedAt) > s.reapAge {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed
}
