package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// LoopState is the explicit phase of a control loop. Modeling the loop as
// a state machine (instead of a bare sleep loop) keeps the phases
// observable and lets tests drive ticks without waiting on real delays.
type LoopState int32

const (
	LoopIdle LoopState = iota
	LoopScanning
	LoopApplying
	LoopSleeping
)

func (s LoopState) String() string {
	switch s {
	case LoopIdle:
		return "idle"
	case LoopScanning:
		return "scanning"
	case LoopApplying:
		return "applying"
	case LoopSleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}

// loop drives one periodic cycle function. A tick that fails or panics is
// logged and the loop resumes after the shortened backoff instead of
// terminating the process.
type loop struct {
	name     string
	interval time.Duration
	backoff  time.Duration
	tick     func(ctx context.Context) error
	log      *zap.Logger
	onError  func()

	state atomic.Int32
}

func (l *loop) State() LoopState {
	return LoopState(l.state.Load())
}

func (l *loop) setState(s LoopState) {
	l.state.Store(int32(s))
}

// run executes the Idle → Scanning/Applying → Sleeping cycle until the
// context is cancelled. The first tick fires immediately.
func (l *loop) run(ctx context.Context) {
	defer l.setState(LoopIdle)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		delay := l.interval
		if err := l.safeTick(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Error("loop tick failed, continuing after backoff",
				zap.String("loop", l.name),
				zap.Error(err))
			if l.onError != nil {
				l.onError()
			}
			delay = l.backoff
		}

		l.setState(LoopSleeping)
		timer.Reset(delay)
	}
}

// safeTick runs one tick with panic recovery.
func (l *loop) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loop %s panicked: %v", l.name, r)
		}
	}()
	l.setState(LoopScanning)
	return l.tick(ctx)
}
