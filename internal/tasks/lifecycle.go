package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"noro/internal/client"

	"github.com/google/uuid"
)

var ErrTaskRunning = errors.New("task is already running")

// Call performs the network exchange of one task run.
type Call[R any] func(ctx context.Context) (R, error)

// PrepareFunc validates and encodes the parameters of a run. It must not touch
// the network; a returned error settles the run without issuing a call.
type PrepareFunc[P, R any] func(params P) (Call[R], error)

// Lifecycle owns the observable state of one kind of task and allows at most
// one outstanding call at a time.
//
// Listeners registered with Subscribe receive a snapshot after every
// transition, in transition order. They must not call back into the
// Lifecycle's actions (Start, Reset, ResetError) from the callback.
type Lifecycle[P, R any] struct {
	kind      Kind
	prepare   PrepareFunc[P, R]
	simulator *ProgressSimulator

	// notify serializes transitions together with listener delivery.
	notify sync.Mutex

	mu           sync.Mutex
	state        State[R]
	run          uint64
	inFlight     bool
	done         chan struct{}
	listeners    map[int]func(State[R])
	nextListener int
}

// NewLifecycle creates an idle lifecycle. A nil simulator means the kind
// reports no progress.
func NewLifecycle[P, R any](kind Kind, prepare PrepareFunc[P, R], simulator *ProgressSimulator) *Lifecycle[P, R] {
	return &Lifecycle[P, R]{
		kind:      kind,
		prepare:   prepare,
		simulator: simulator,
		state:     State[R]{Kind: kind, Status: Idle},
		listeners: make(map[int]func(State[R])),
	}
}

func (l *Lifecycle[P, R]) Kind() Kind {
	return l.kind
}

func (l *Lifecycle[P, R]) State() State[R] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.copy()
}

// Subscribe registers fn for state snapshots and returns a function that
// removes it.
func (l *Lifecycle[P, R]) Subscribe(fn func(State[R])) (unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextListener
	l.nextListener++
	l.listeners[id] = fn

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.listeners, id)
	}
}

// transition applies fn to the state and delivers the resulting snapshot. fn
// returns false to leave the state untouched and skip delivery.
func (l *Lifecycle[P, R]) transition(fn func(state *State[R]) bool) {
	l.notify.Lock()
	defer l.notify.Unlock()

	l.mu.Lock()
	if !fn(&l.state) {
		l.mu.Unlock()
		return
	}
	snapshot := l.state.copy()
	listeners := make([]func(State[R]), 0, len(l.listeners))
	for _, listener := range l.listeners {
		listeners = append(listeners, listener)
	}
	l.mu.Unlock()

	for _, listener := range listeners {
		listener(snapshot)
	}
}

// Start begins a run. It returns ErrTaskRunning without side effects while a
// previous call is still outstanding. Every other failure, including invalid
// parameters, is recorded in the state rather than returned.
func (l *Lifecycle[P, R]) Start(ctx context.Context, params P) error {
	runId := uuid.New()
	var call Call[R]
	var rejected bool
	var run uint64
	var done chan struct{}

	l.transition(func(state *State[R]) bool {
		if l.inFlight {
			rejected = true
			return false
		}

		l.run++
		run = l.run
		*state = State[R]{Kind: l.kind, Status: Idle}

		var err error
		call, err = l.prepare(params)
		if err != nil {
			slog.Info("task rejected before sending", "kind", l.kind, "run_id", runId, "error", err)
			state.Error = client.NormalizeError(err, client.ClientFallbackMessage)
			return true
		}

		state.Status = Running
		l.inFlight = true
		done = make(chan struct{})
		l.done = done
		return true
	})

	if rejected {
		slog.Warn("ignoring start while task is running", "kind", l.kind)
		return ErrTaskRunning
	}

	if done != nil {
		slog.Info("task started", "kind", l.kind, "run_id", runId)
		go l.execute(ctx, runId, run, call, done)
	}

	return nil
}

func (l *Lifecycle[P, R]) execute(ctx context.Context, runId uuid.UUID, run uint64, call Call[R], done chan struct{}) {
	defer close(done)

	result, err := l.invoke(ctx, run, call)
	if err != nil {
		slog.Error("task failed", "kind", l.kind, "run_id", runId, "error", err)
	} else {
		slog.Info("task completed", "kind", l.kind, "run_id", runId)
	}

	l.transition(func(state *State[R]) bool {
		l.inFlight = false
		if run != l.run {
			slog.Info("discarding result of reset task", "kind", l.kind, "run_id", runId)
			return false
		}

		state.Status = Idle
		if err != nil {
			state.Result = nil
			state.Error = client.NormalizeError(err, client.ClientFallbackMessage)
			state.Progress = 0
		} else {
			state.Result = &result
			state.Error = ""
			if l.simulator != nil {
				state.Progress = 100
			}
		}
		return true
	})
}

// invoke runs the call with the progress simulator alongside it. The simulator
// is stopped on every path out of the call, including a panic.
func (l *Lifecycle[P, R]) invoke(ctx context.Context, run uint64, call Call[R]) (result R, err error) {
	if l.simulator != nil {
		stop := l.simulator.Start(func(progress float64) {
			l.advance(run, progress)
		})
		defer stop()
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered from panic in task call", "kind", l.kind, "panic", r)
			err = fmt.Errorf("%s", client.ClientFallbackMessage)
		}
	}()

	return call(ctx)
}

func (l *Lifecycle[P, R]) advance(run uint64, progress float64) {
	l.transition(func(state *State[R]) bool {
		if run != l.run || state.Status != Running || progress <= state.Progress {
			return false
		}
		state.Progress = progress
		return true
	})
}

// ResetError clears the error and nothing else.
func (l *Lifecycle[P, R]) ResetError() {
	l.transition(func(state *State[R]) bool {
		state.Error = ""
		return true
	})
}

// Reset returns to the pristine idle state. A call that is still outstanding
// keeps running but its outcome is discarded, and Start keeps rejecting new
// runs until it returns.
func (l *Lifecycle[P, R]) Reset() {
	l.transition(func(state *State[R]) bool {
		l.run++
		*state = State[R]{Kind: l.kind, Status: Idle}
		return true
	})
}

// Wait blocks until the most recently started call has returned.
func (l *Lifecycle[P, R]) Wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()

	if done != nil {
		<-done
	}
}
