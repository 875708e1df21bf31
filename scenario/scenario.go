// Package scenario runs integration scenarios against a forked chain. Every
// scenario gets its own overlay over the shared snapshot, so scenarios never
// observe each other's writes and the same scenario reproduces the same state
// root and event log on every run.
package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"clonetest/core/state"
	"clonetest/core/types"
	"clonetest/redeploy"
	"clonetest/snapshot"
	"clonetest/vm"
)

// Status is the lifecycle state of a scenario run.
type Status uint8

const (
	StatusInitialized Status = iota
	StatusRunning
	StatusPassed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusRunning:
		return "running"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool { return s == StatusPassed || s == StatusFailed }

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "initialized":
		*s = StatusInitialized
	case "running":
		*s = StatusRunning
	case "passed":
		*s = StatusPassed
	case "failed":
		*s = StatusFailed
	default:
		return fmt.Errorf("unknown scenario status %q", text)
	}
	return nil
}

// Scenario is an ordered list of steps followed by assertions on the
// resulting state.
type Scenario struct {
	Name       string
	Steps      []Step
	Assertions []Assertion
}

// Validate checks the scenario is runnable.
func (s Scenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("scenario name must be set")
	}
	if len(s.Steps) == 0 && len(s.Assertions) == 0 {
		return fmt.Errorf("scenario %q has no steps", s.Name)
	}
	for i, step := range s.Steps {
		if step == nil {
			return fmt.Errorf("scenario %q: step %d is nil", s.Name, i)
		}
	}
	for i, a := range s.Assertions {
		if a == nil {
			return fmt.Errorf("scenario %q: assertion %d is nil", s.Name, i)
		}
	}
	return nil
}

// Message is one entry of the executed message log.
type Message struct {
	Step     int             `json:"step"`
	Kind     string          `json:"kind"`
	Sender   string          `json:"sender,omitempty"`
	Contract string          `json:"contract,omitempty"`
	CodeID   uint64          `json:"code_id,omitempty"`
	Msg      json.RawMessage `json:"msg,omitempty"`
	Funds    string          `json:"funds,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Context is the mutable state of one scenario run. It is owned by a single
// run and discarded when the run ends.
type Context struct {
	overlay  *state.Overlay
	env      *vm.Env
	manager  *redeploy.Manager
	step     int
	vars     map[string]string
	bindings []redeploy.Binding
	messages []Message
	events   types.Events
	last     types.Events
}

func newContext(overlay *state.Overlay, env *vm.Env, manager *redeploy.Manager, vars map[string]string) *Context {
	c := &Context{
		overlay: overlay,
		env:     env,
		manager: manager,
		vars:    make(map[string]string, len(vars)),
	}
	for k, v := range vars {
		c.vars[k] = v
	}
	return c
}

// Overlay returns the scenario overlay.
func (c *Context) Overlay() *state.Overlay { return c.overlay }

// Env returns the execution environment.
func (c *Context) Env() *vm.Env { return c.env }

// Var returns a named step output.
func (c *Context) Var(name string) (string, bool) {
	v, ok := c.vars[strings.TrimPrefix(name, "$")]
	return v, ok
}

// SetVar records a named output.
func (c *Context) SetVar(name, value string) {
	if name = strings.TrimPrefix(strings.TrimSpace(name), "$"); name != "" {
		c.vars[name] = value
	}
}

// Bindings returns the contract bindings changed so far.
func (c *Context) Bindings() []redeploy.Binding { return c.bindings }

// Messages returns the executed message log.
func (c *Context) Messages() []Message { return c.messages }

// Events returns the events of every successful message.
func (c *Context) Events() types.Events { return c.events }

// LastEvents returns the events of the most recent successful message.
func (c *Context) LastEvents() types.Events { return c.last }

func (c *Context) record(m Message, events types.Events) {
	m.Step = c.step
	c.messages = append(c.messages, m)
	if m.Error == "" {
		c.events = append(c.events, events...)
		c.last = events
	}
}

// Report is the outcome of one scenario run.
type Report struct {
	RunID      uuid.UUID          `json:"run_id"`
	Scenario   string             `json:"scenario"`
	Snapshot   snapshot.Key       `json:"snapshot"`
	Status     Status             `json:"status"`
	Error      string             `json:"error,omitempty"`
	FailedStep int                `json:"failed_step"`
	Messages   []Message          `json:"messages"`
	Events     types.Events       `json:"events"`
	Bindings   []redeploy.Binding `json:"bindings"`
	StateRoot  common.Hash        `json:"state_root"`
	Started    time.Time          `json:"started"`
	Duration   time.Duration      `json:"duration"`

	err error
}

// Err returns the error that failed the run, nil for a passed run.
func (r *Report) Err() error { return r.err }

// Passed reports whether the run passed.
func (r *Report) Passed() bool { return r.Status == StatusPassed }

// EventDigest fingerprints the event log.
func (r *Report) EventDigest() common.Hash {
	return crypto.Keccak256Hash([]byte(r.Events.String()))
}

func (r *Report) fail(step int, err error) {
	r.Status = StatusFailed
	r.FailedStep = step
	r.err = err
	r.Error = err.Error()
}
