package transfer

import (
	"errors"
	"sync/atomic"
)

// ErrExecutionInFlight is returned when a transfer attempt is rejected
// because another attempt on the same orchestrator has not terminated yet.
var ErrExecutionInFlight = errors.New("a transfer is already in flight")

// GuardState is the guard's two-state machine. There is no persisted
// "completed" state; every attempt independently moves Idle -> Executing ->
// Idle.
type GuardState int32

const (
	GuardIdle GuardState = iota
	GuardExecuting
)

func (s GuardState) String() string {
	if s == GuardExecuting {
		return "executing"
	}
	return "idle"
}

// Guard enforces at most one in-flight transfer per orchestrator instance,
// independent of how many times the caller fires (double taps, duplicate
// auto-pay triggers). The flag and the caller's busy indicator move
// together: TryAcquire flips both before any network call, Release clears
// both no matter how the attempt terminated.
type Guard struct {
	executing atomic.Bool

	// onBusyChange, when set, mirrors the guard into a user-facing
	// "processing" indicator.
	onBusyChange func(busy bool)
}

// NewGuard returns an idle guard. onBusyChange may be nil.
func NewGuard(onBusyChange func(busy bool)) *Guard {
	return &Guard{onBusyChange: onBusyChange}
}

// TryAcquire attempts the Idle -> Executing transition. It returns false,
// without side effects, if an attempt is already executing.
func (g *Guard) TryAcquire() bool {
	if !g.executing.CompareAndSwap(false, true) {
		return false
	}
	if g.onBusyChange != nil {
		g.onBusyChange(true)
	}
	return true
}

// Release returns the guard to Idle. It must run on every termination path
// of an acquired attempt; callers defer it immediately after a successful
// TryAcquire.
func (g *Guard) Release() {
	g.executing.Store(false)
	if g.onBusyChange != nil {
		g.onBusyChange(false)
	}
}

// State reports the current state. Diagnostic only; acquisition must go
// through TryAcquire.
func (g *Guard) State() GuardState {
	if g.executing.Load() {
		return GuardExecuting
	}
	return GuardIdle
}
