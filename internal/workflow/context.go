package workflow

import (
	"errors"
	"fmt"

	"github.com/bgdnvk/coolctl/internal/livewire"
)

// State names a point in the deploy workflow. Each step is named after the
// state it reaches.
type State string

const (
	StateStart                 State = "Start"
	StateAuthenticated         State = "Authenticated"
	StateProjectResolved       State = "ProjectResolved"
	StateEnvironmentResolved   State = "EnvironmentResolved"
	StateApplicationConfigured State = "ApplicationConfigured"
	StateSubmitted             State = "Submitted"
	StateDomainConfigured      State = "DomainConfigured"
	StateDeployed              State = "Deployed"
	StateFailed                State = "Failed"
)

var (
	// ErrAuth covers rejected credentials and a login page without a token.
	ErrAuth = errors.New("authentication failed")
	// ErrMissingPrecondition is returned when a step runs without an input it requires.
	ErrMissingPrecondition = errors.New("missing precondition")
	// ErrDeploymentFailed is returned when the deployment ends in a failed state or never finishes.
	ErrDeploymentFailed = errors.New("deployment failed")
	// ErrAlreadySet is returned when a step tries to replace an identifier set earlier.
	ErrAlreadySet = errors.New("identifier already set")
)

// Key names a value carried in the workflow Context.
type Key string

const (
	KeyUser        Key = "user"
	KeyProject     Key = "project"
	KeyEnvironment Key = "environment"
	KeyApplication Key = "application"
	KeyDeployment  Key = "deployment"
	KeyDomain      Key = "domain"
	// KeySubmission is present once the final form call has been answered.
	KeySubmission Key = "submission"
)

// Context is the immutable state threaded through the steps. Every With
// method returns a copy; identifiers cannot change once set.
type Context struct {
	state      State
	values     map[Key]string
	hints      map[Key]string
	submission *livewire.Result
}

// NewContext returns the initial context.
func NewContext() Context {
	return Context{state: StateStart}
}

// State returns the last state reached.
func (c Context) State() State {
	if c.state == "" {
		return StateStart
	}
	return c.state
}

// Value returns an identifier, empty if unset.
func (c Context) Value(k Key) string {
	return c.values[k]
}

// Has reports whether k is available.
func (c Context) Has(k Key) bool {
	if k == KeySubmission {
		return c.submission != nil
	}
	return c.values[k] != ""
}

func (c Context) ProjectID() string     { return c.values[KeyProject] }
func (c Context) EnvironmentID() string { return c.values[KeyEnvironment] }
func (c Context) ApplicationID() string { return c.values[KeyApplication] }
func (c Context) DeploymentID() string  { return c.values[KeyDeployment] }

// Submission returns the answer to the final form call.
func (c Context) Submission() *livewire.Result {
	return c.submission
}

// Hint returns a value discovered early that a later step may adopt.
func (c Context) Hint(k Key) string {
	return c.hints[k]
}

func (c Context) clone() Context {
	next := c
	next.values = make(map[Key]string, len(c.values)+1)
	for k, v := range c.values {
		next.values[k] = v
	}
	next.hints = make(map[Key]string, len(c.hints))
	for k, v := range c.hints {
		next.hints[k] = v
	}
	return next
}

// With sets an identifier. Setting the same value again is a no-op; setting
// a different one fails with ErrAlreadySet.
func (c Context) With(k Key, v string) (Context, error) {
	if v == "" {
		return c, fmt.Errorf("empty value for %s", k)
	}
	if old := c.values[k]; old != "" {
		if old == v {
			return c, nil
		}
		return c, fmt.Errorf("%w: %s is %q, refusing %q", ErrAlreadySet, k, old, v)
	}
	next := c.clone()
	next.values[k] = v
	return next, nil
}

// WithHint records a hint. Hints may be overwritten.
func (c Context) WithHint(k Key, v string) Context {
	next := c.clone()
	next.hints[k] = v
	return next
}

// WithSubmission records the final form call answer.
func (c Context) WithSubmission(res *livewire.Result) Context {
	next := c.clone()
	next.submission = res
	return next
}

func (c Context) withState(s State) Context {
	next := c.clone()
	next.state = s
	return next
}
