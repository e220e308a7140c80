// Package opstate tracks the lifecycle of one caller-owned operation.
//
// A Tracker moves Idle -> InFlight -> Succeeded | Failed. InFlight is set
// before the operation body starts and is always replaced when it returns,
// including when it panics.
package opstate

import (
	"errors"
	"fmt"
	"sync"
)

type State int

const (
	Idle State = iota
	InFlight
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InFlight:
		return "in_flight"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// KindReporter is implemented by errors that carry a machine-readable kind.
type KindReporter interface {
	KindName() string
}

// UserMessenger is implemented by errors whose Error text is for logs and
// that carry a separate message meant for people.
type UserMessenger interface {
	UserMessage() string
}

// KindPanic is reported when the operation body panicked.
const KindPanic = "panic"

// Status is a snapshot of a Tracker. Kind and Message are set only when
// State is Failed.
type Status struct {
	State   State  `json:"state"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// FailedWith builds the Failed status for err.
func FailedWith(err error) Status {
	st := Status{State: Failed, Message: err.Error()}
	var kr KindReporter
	if errors.As(err, &kr) {
		st.Kind = kr.KindName()
	}
	var um UserMessenger
	if errors.As(err, &um) && um.UserMessage() != "" {
		st.Message = um.UserMessage()
	}
	return st
}

// Tracker holds the status of one named operation and notifies observers on
// every transition. Observers run synchronously in subscription order, after
// the status has been updated, and must not call Run on the same Tracker.
type Tracker struct {
	name string

	mu        sync.Mutex
	status    Status
	observers map[int]func(name string, st Status)
	order     []int
	nextID    int
}

func NewTracker(name string) *Tracker {
	return &Tracker{name: name, observers: map[int]func(string, Status){}}
}

func (t *Tracker) Name() string { return t.name }

// Status returns the current snapshot.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Subscribe registers fn for future transitions and returns a function that
// removes it.
func (t *Tracker) Subscribe(fn func(name string, st Status)) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.observers[id] = fn
	t.order = append(t.order, id)
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.observers, id)
			for i, v := range t.order {
				if v == id {
					t.order = append(t.order[:i:i], t.order[i+1:]...)
					break
				}
			}
			t.mu.Unlock()
		})
	}
}

// Reset returns the tracker to Idle.
func (t *Tracker) Reset() {
	t.set(Status{State: Idle})
}

// Run executes fn, moving the tracker to InFlight before fn starts and to
// Succeeded or Failed after. A panic in fn is recorded as Failed with
// KindPanic and then re-raised.
func (t *Tracker) Run(fn func() error) (err error) {
	t.set(Status{State: InFlight})

	completed := false
	defer func() {
		if completed {
			return
		}
		r := recover()
		if r == nil {
			// runtime.Goexit unwound fn.
			t.set(Status{State: Failed, Kind: KindPanic, Message: "operation aborted"})
			return
		}
		t.set(Status{State: Failed, Kind: KindPanic, Message: fmt.Sprint(r)})
		panic(r)
	}()

	err = fn()
	completed = true
	if err != nil {
		t.set(FailedWith(err))
		return err
	}
	t.set(Status{State: Succeeded})
	return nil
}

func (t *Tracker) set(st Status) {
	t.mu.Lock()
	t.status = st
	fns := make([]func(string, Status), 0, len(t.order))
	for _, id := range t.order {
		fns = append(fns, t.observers[id])
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(t.name, st)
	}
}
