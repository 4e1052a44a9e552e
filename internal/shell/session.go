package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/core/internal/buffer"
	"github.com/agentcore/core/internal/corerr"
)

const (
	defaultMaxSessions = 10
	defaultIdleTimeout = 5 * time.Minute
	defaultQuietWindow = 100 * time.Millisecond
	sentinelPrefix     = "__agentcore_sentinel_"
)

// Session is one persistent shell process, kept alive across multiple
// Execute calls so that cwd/env/variable state carries over, per spec.md
// §4.E's persistent shell session pool.
type Session struct {
	ID         string
	createdAt  time.Time
	lastUsedAt time.Time

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  *bufio.Writer
	stdout *buffer.Bounded
	stderr *buffer.Bounded
	scanOut chan string
	closed bool
}

// startSession spawns a long-lived shell and a goroutine that copies its
// stdout line by line into scanOut, used by ExecuteSentinel to detect
// command completion without relying on process exit.
func startSession(ctx context.Context) (*Session, error) {
	shellPath, _ := shellInvocation()
	cmd := exec.CommandContext(ctx, shellPath)
	setProcAttrs(cmd)

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, corerr.Wrap(corerr.KindExecutionFailed, "shell", "session_stdin", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, corerr.Wrap(corerr.KindExecutionFailed, "shell", "session_stdout", err)
	}
	cmd.Stderr = buffer.New(defaultOutputCapacity)

	if err := cmd.Start(); err != nil {
		return nil, corerr.Wrap(corerr.KindExecutionFailed, "shell", "session_spawn", err)
	}

	s := &Session{
		ID:         uuid.NewString(),
		createdAt:  time.Now(),
		lastUsedAt: time.Now(),
		cmd:        cmd,
		stdin:      bufio.NewWriter(stdinPipe),
		stdout:     buffer.New(defaultOutputCapacity),
		stderr:     cmd.Stderr.(*buffer.Bounded),
		scanOut:    make(chan string, 256),
	}

	go s.pump(stdoutPipe)

	return s, nil
}

func (s *Session) pump(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		s.stdout.WriteString(line)
		s.stdout.WriteString("\n")
		select {
		case s.scanOut <- line:
		default:
		}
	}
	close(s.scanOut)
}

// ExecuteSentinel runs command in this session and waits for a unique
// sentinel line it appends after the command, used to detect completion
// deterministically instead of relying on a quiescence timeout (Open
// Question 5's sentinel-mode resolution).
func (s *Session) ExecuteSentinel(ctx context.Context, command string, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", corerr.New(corerr.KindExecutionFailed, "shell", "session is closed")
	}

	sentinel := fmt.Sprintf("%s%s", sentinelPrefix, uuid.NewString())
	full := fmt.Sprintf("%s\necho %s\n", command, sentinel)

	if _, err := s.stdin.WriteString(full); err != nil {
		return "", corerr.Wrap(corerr.KindExecutionFailed, "shell", "session_write", err)
	}
	if err := s.stdin.Flush(); err != nil {
		return "", corerr.Wrap(corerr.KindExecutionFailed, "shell", "session_flush", err)
	}

	deadline := time.After(timeout)
	var out []string
	for {
		select {
		case line, ok := <-s.scanOut:
			if !ok {
				return joinLines(out), corerr.New(corerr.KindExecutionFailed, "shell", "session stdout closed")
			}
			if line == sentinel {
				s.lastUsedAt = time.Now()
				return joinLines(out), nil
			}
			out = append(out, line)
		case <-deadline:
			return joinLines(out), corerr.New(corerr.KindTimeout, "shell", "session command timed out")
		case <-ctx.Done():
			return joinLines(out), corerr.New(corerr.KindCancelled, "shell", "session command cancelled")
		}
	}
}

// Execute runs command and waits for quiescence (no output for quietFor)
// instead of a sentinel — the fallback mode for shells/commands that do
// not reliably echo a trailing marker line.
func (s *Session) Execute(ctx context.Context, command string, quietFor time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", corerr.New(corerr.KindExecutionFailed, "shell", "session is closed")
	}
	if quietFor <= 0 {
		quietFor = defaultQuietWindow
	}

	if _, err := s.stdin.WriteString(command + "\n"); err != nil {
		return "", corerr.Wrap(corerr.KindExecutionFailed, "shell", "session_write", err)
	}
	if err := s.stdin.Flush(); err != nil {
		return "", corerr.Wrap(corerr.KindExecutionFailed, "shell", "session_flush", err)
	}

	timer := time.NewTimer(quietFor)
	defer timer.Stop()
	var out []string
	for {
		select {
		case line, ok := <-s.scanOut:
			if !ok {
				return joinLines(out), nil
			}
			out = append(out, line)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(quietFor)
		case <-timer.C:
			s.lastUsedAt = time.Now()
			return joinLines(out), nil
		case <-ctx.Done():
			return joinLines(out), corerr.New(corerr.KindCancelled, "shell", "session command cancelled")
		}
	}
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cmd.Process != nil {
		terminateProcess(s.cmd)
	}
	return nil
}

func (s *Session) idleSince() time.Duration { return time.Since(s.lastUsedAt) }

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// SessionPool manages a bounded set of persistent shell sessions with LRU
// eviction and idle-timeout reaping, per spec.md §4.E. Grounded on the
// supervisor's reaping pattern, generalized to a second resource kind.
type SessionPool struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	order       []string // most-recently-used at the end
	maxSessions int
	idleTimeout time.Duration
}

// NewSessionPool constructs a pool; non-positive values use the spec
// defaults (10 sessions, 5 minute idle timeout).
func NewSessionPool(maxSessions int, idleTimeout time.Duration) *SessionPool {
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	return &SessionPool{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
		idleTimeout: idleTimeout,
	}
}

// Open starts a new persistent session, evicting the least-recently-used
// one first if the pool is at capacity.
func (p *SessionPool) Open(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	if len(p.sessions) >= p.maxSessions {
		p.evictLRULocked()
	}
	p.mu.Unlock()

	s, err := startSession(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.sessions[s.ID] = s
	p.order = append(p.order, s.ID)
	p.mu.Unlock()

	return s, nil
}

// Get returns the session by id, marking it most-recently-used.
func (p *SessionPool) Get(id string) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	if !ok {
		return nil, false
	}
	p.touchLocked(id)
	return s, true
}

// Close terminates and removes a session.
func (p *SessionPool) Close(id string) error {
	p.mu.Lock()
	s, ok := p.sessions[id]
	if ok {
		delete(p.sessions, id)
		p.removeFromOrderLocked(id)
	}
	p.mu.Unlock()
	if !ok {
		return corerr.New(corerr.KindInvalidParameters, "shell", "no such session").WithPhase("resolve")
	}
	return s.Close()
}

// ReapIdle closes sessions that have been idle longer than the pool's
// idle timeout, returning the number closed.
func (p *SessionPool) ReapIdle() int {
	p.mu.Lock()
	var stale []*Session
	for id, s := range p.sessions {
		if s.idleSince() > p.idleTimeout {
			stale = append(stale, s)
			delete(p.sessions, id)
			p.removeFromOrderLocked(id)
		}
	}
	p.mu.Unlock()

	for _, s := range stale {
		_ = s.Close()
	}
	return len(stale)
}

func (p *SessionPool) touchLocked(id string) {
	p.removeFromOrderLocked(id)
	p.order = append(p.order, id)
}

func (p *SessionPool) removeFromOrderLocked(id string) {
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			return
		}
	}
}

// evictLRULocked closes and removes the least-recently-used session. The
// caller must hold p.mu.
func (p *SessionPool) evictLRULocked() {
	if len(p.order) == 0 {
		return
	}
	oldest := p.order[0]
	p.order = p.order[1:]
	if s, ok := p.sessions[oldest]; ok {
		delete(p.sessions, oldest)
		go s.Close()
	}
}
