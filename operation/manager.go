// Package operation ensures a single motion or script owns the actuators at a time.
package operation

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/elliot2/motioncore/utils"
)

// SingleOperationManager ensures only 1 operation is happening a time.
// An operation can be nested, so if there is already an operation of this manager in progress,
// it can have sub-operations without an issue. Operations of other managers in the context do
// not count as nesting.
type SingleOperationManager struct {
	mu        sync.Mutex
	currentOp *anOp
	clk       clock.Clock
}

// NewSingleOperationManager returns a manager that waits on clk. The zero value waits on the
// wall clock.
func NewSingleOperationManager(clk clock.Clock) *SingleOperationManager {
	return &SingleOperationManager{clk: clk}
}

type somCtxKey struct{}

// opsValue maps managers to the operation they started in this context chain.
type opsValue struct {
	parent *opsValue
	mgr    *SingleOperationManager
	op     *anOp
}

func (sm *SingleOperationManager) opFromContext(ctx context.Context) *anOp {
	v, _ := ctx.Value(somCtxKey{}).(*opsValue)
	for ; v != nil; v = v.parent {
		if v.mgr == sm {
			return v.op
		}
	}
	return nil
}

// CancelRunning cancels the current operation unless it's mine.
func (sm *SingleOperationManager) CancelRunning(ctx context.Context) {
	if sm.opFromContext(ctx) != nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cancelInLock(ctx)
}

// OpRunning returns if there is a current operation.
func (sm *SingleOperationManager) OpRunning() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.currentOp != nil
}

// New creates a new operation, cancels previous, returns a new context and function to call when done.
func (sm *SingleOperationManager) New(ctx context.Context) (context.Context, func()) {
	if sm.opFromContext(ctx) != nil {
		return ctx, func() {}
	}

	sm.mu.Lock()
	sm.cancelInLock(ctx)

	theOp := &anOp{}
	parent, _ := ctx.Value(somCtxKey{}).(*opsValue)
	ctx = context.WithValue(ctx, somCtxKey{}, &opsValue{parent: parent, mgr: sm, op: theOp})
	theOp.ctx, theOp.cancelFunc = context.WithCancel(ctx)
	sm.currentOp = theOp
	sm.mu.Unlock()

	return theOp.ctx, func() {
		theOp.cancelFunc()
		sm.mu.Lock()
		if theOp == sm.currentOp {
			sm.currentOp = nil
		}
		sm.mu.Unlock()
	}
}

// NewTimedWaitOp returns true if it finished, false if cancelled.
// If there are other operations pending, this will cancel them.
func (sm *SingleOperationManager) NewTimedWaitOp(ctx context.Context, dur time.Duration) bool {
	ctx, finish := sm.New(ctx)
	defer finish()

	return utils.SelectContextOrWaitClock(ctx, sm.clock(), dur)
}

// WaitForSuccess will call testFunc every pollTime until it returns true or an error.
func (sm *SingleOperationManager) WaitForSuccess(
	ctx context.Context,
	pollTime time.Duration,
	testFunc func(ctx context.Context) (bool, error),
) error {
	ctx, finish := sm.New(ctx)
	defer finish()

	for {
		res, err := testFunc(ctx)
		if err != nil {
			return err
		}
		if res {
			return nil
		}

		if !utils.SelectContextOrWaitClock(ctx, sm.clock(), pollTime) {
			return ctx.Err()
		}
	}
}

func (sm *SingleOperationManager) clock() clock.Clock {
	if sm.clk == nil {
		return clock.New()
	}
	return sm.clk
}

func (sm *SingleOperationManager) cancelInLock(ctx context.Context) {
	myOp := sm.opFromContext(ctx)
	op := sm.currentOp

	if op == nil || myOp == op {
		return
	}

	op.cancelFunc()

	sm.currentOp = nil
}

type anOp struct {
	ctx        context.Context
	cancelFunc context.CancelFunc
}
