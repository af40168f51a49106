// Package forgepack is the module root: it holds the small pieces of
// process lifecycle the command-line driver needs around a build run —
// interrupt handling and exit-time cleanup — that don't belong to any one
// engine component.
package forgepack

import (
	"sync"
	"sync/atomic"
)

// atExit holds cleanup registered through RegisterAtExit. cmd/forgepack
// runs it once, after engine.Run has reported success; a failed build
// returns before the registered functions run.
var atExit struct {
	sync.Mutex
	fns    []func() error
	closed uint32
}

// RegisterAtExit queues fn to run when RunAtExit is called.
func RegisterAtExit(fn func() error) {
	if atomic.LoadUint32(&atExit.closed) != 0 {
		panic("BUG: RegisterAtExit must not be called from an atExit func")
	}
	atExit.Lock()
	defer atExit.Unlock()
	atExit.fns = append(atExit.fns, fn)
}

// RunAtExit runs every registered cleanup in registration order, stopping at
// the first error. Called once, after cmd/forgepack's build run completes.
func RunAtExit() error {
	atomic.StoreUint32(&atExit.closed, 1)
	for _, fn := range atExit.fns {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}
