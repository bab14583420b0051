package rcon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Status is the remote state of a submitted invocation.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusSuccess    Status = "Success"
	StatusFailed     Status = "Failed"
	StatusTimedOut   Status = "TimedOut"
	StatusCancelled  Status = "Cancelled"
	StatusUnknown    Status = "Unknown"
)

// Terminal reports whether no further polling can change the status.
func (s Status) Terminal() bool {
	return s != StatusPending && s != StatusInProgress
}

// Invocation is one poll result from the remote command service.
type Invocation struct {
	Status        Status
	StatusDetails string
	Stdout        string
	Stderr        string
}

// ErrInvocationNotFound is returned by Poll when the service has not yet
// registered the invocation. It is retried like a pending status.
var ErrInvocationNotFound = errors.New("invocation does not exist yet")

// ErrLocalTimeout means the poll budget ran out before a terminal status.
// It is distinct from a remote TimedOut status.
var ErrLocalTimeout = errors.New("command timed out waiting for result")

// ExecutionError reports a terminal, non-successful remote status.
type ExecutionError struct {
	InvocationID string
	Status       Status
	Message      string
}

func (e *ExecutionError) Error() string {
	return e.Message
}

// CommandService submits shell commands to the game host and reports on them.
type CommandService interface {
	// Submit dispatches commandLine and returns the invocation id.
	Submit(ctx context.Context, commandLine string) (string, error)
	// Poll returns the current state of invocationID.
	Poll(ctx context.Context, invocationID string) (*Invocation, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Options tune command construction and polling.
type Options struct {
	Container    string
	InitialDelay time.Duration
	PollInterval time.Duration
	MaxAttempts  int
}

// DefaultOptions returns the standard polling budget.
func DefaultOptions() Options {
	return Options{
		Container:    "blockhaven-mc",
		InitialDelay: 1500 * time.Millisecond,
		PollInterval: time.Second,
		MaxAttempts:  10,
	}
}

// Observer receives execution outcomes. It may be nil.
type Observer interface {
	ObserveExecution(command string, outcome string, polls int, elapsed time.Duration)
}

// Executor runs whitelisted console commands on the game host.
type Executor struct {
	svc      CommandService
	opts     Options
	sleep    Sleeper
	now      func() time.Time
	observer Observer
	log      logrus.FieldLogger
}

// NewExecutor creates an Executor. A nil sleep uses a context-aware timer.
func NewExecutor(svc CommandService, opts Options, sleep Sleeper, log logrus.FieldLogger) *Executor {
	if sleep == nil {
		sleep = contextSleep
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Executor{
		svc:   svc,
		opts:  opts,
		sleep: sleep,
		now:   time.Now,
		log:   log.WithField("component", "rcon"),
	}
}

// SetObserver attaches an execution observer.
func (e *Executor) SetObserver(o Observer) {
	e.observer = o
}

type execState int

const (
	stateSubmitted execState = iota
	statePolling
	stateWaiting
)

// Execute validates, submits and waits for command. It returns the command
// output on success. Errors are *ValidationError, *ExecutionError,
// ErrLocalTimeout, or a wrapped transport error.
func (e *Executor) Execute(ctx context.Context, command, args string) (string, error) {
	if err := Validate(command, args); err != nil {
		return "", err
	}

	start := e.now()
	log := e.log.WithField("command", command)

	invocationID, err := e.svc.Submit(ctx, BuildCommandLine(e.opts.Container, command, args))
	if err != nil {
		e.observe(command, "submit_error", 0, start)
		return "", fmt.Errorf("submit command: %w", err)
	}
	if invocationID == "" {
		e.observe(command, "submit_error", 0, start)
		return "", errors.New("no command ID returned from SSM")
	}
	log = log.WithField("invocation_id", invocationID)
	log.Info("command submitted")

	state := stateSubmitted
	polls := 0
	for {
		switch state {
		case stateSubmitted:
			if err := e.sleep(ctx, e.opts.InitialDelay); err != nil {
				return "", err
			}
			state = statePolling

		case stateWaiting:
			if polls >= e.opts.MaxAttempts {
				e.observe(command, "timeout", polls, start)
				log.WithField("polls", polls).Warn("command poll budget exhausted")
				return "", ErrLocalTimeout
			}
			if err := e.sleep(ctx, e.opts.PollInterval); err != nil {
				return "", err
			}
			state = statePolling

		case statePolling:
			polls++
			inv, err := e.svc.Poll(ctx, invocationID)
			if errors.Is(err, ErrInvocationNotFound) {
				state = stateWaiting
				continue
			}
			if err != nil {
				e.observe(command, "poll_error", polls, start)
				return "", fmt.Errorf("poll command %s: %w", invocationID, err)
			}
			if !inv.Status.Terminal() {
				state = stateWaiting
				continue
			}

			output, err := finish(invocationID, inv)
			if err != nil {
				e.observe(command, "failed", polls, start)
				log.WithField("status", inv.Status).Warn("command finished unsuccessfully")
				return "", err
			}
			e.observe(command, "success", polls, start)
			log.WithField("polls", polls).Info("command completed")
			return output, nil
		}
	}
}

func (e *Executor) observe(command, outcome string, polls int, start time.Time) {
	if e.observer != nil {
		e.observer.ObserveExecution(command, outcome, polls, e.now().Sub(start))
	}
}

func finish(invocationID string, inv *Invocation) (string, error) {
	switch inv.Status {
	case StatusSuccess:
		out := strings.TrimSpace(inv.Stdout)
		if out == "" {
			out = "Command executed successfully"
		}
		return out, nil
	case StatusFailed:
		msg := strings.TrimSpace(inv.Stderr)
		if msg == "" {
			msg = "Command execution failed"
		}
		return "", &ExecutionError{InvocationID: invocationID, Status: inv.Status, Message: msg}
	default:
		details := inv.StatusDetails
		if details == "" {
			details = string(inv.Status)
		}
		return "", &ExecutionError{
			InvocationID: invocationID,
			Status:       inv.Status,
			Message:      fmt.Sprintf("Command %s: %s", inv.Status, details),
		}
	}
}

// Message returns the text shown to operators for an Execute error.
func Message(err error) string {
	var verr *ValidationError
	var xerr *ExecutionError
	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.As(err, &xerr):
		return xerr.Message
	case errors.Is(err, ErrLocalTimeout):
		return "Command timed out waiting for result"
	default:
		return err.Error()
	}
}

// BuildCommandLine renders the shell line that forwards command to the game
// console inside container. The argument is single-quoted for the shell.
func BuildCommandLine(container, command, args string) string {
	line := fmt.Sprintf("docker exec %s rcon-cli %s", container, command)
	if args != "" {
		line += " " + shellQuote(args)
	}
	return line
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
