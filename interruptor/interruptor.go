// Package interruptor provides the run flag that a session loop checks at the top of every iteration.
package interruptor

import (
	"sync/atomic"
)

type state = int32

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// Interruptor is the run flag of one session. It moves from idle to running when the session starts and from running
// to stopped exactly once. A stopped flag is never restarted.
type Interruptor struct {
	state int32
}

// Start marks the session as running. It returns false if the flag has already been started or stopped.
func (i *Interruptor) Start() bool {
	return atomic.CompareAndSwapInt32(&i.state, stateIdle, stateRunning)
}

// Interrupt stops the session. It returns true only for the call which performed the transition. Interrupting a
// flag which was never started also makes it terminal.
func (i *Interruptor) Interrupt() bool {
	for {
		s := atomic.LoadInt32(&i.state)
		if s == stateStopped {
			return false
		}
		if atomic.CompareAndSwapInt32(&i.state, s, stateStopped) {
			return true
		}
	}
}

// Running returns true if the loop may continue.
func (i *Interruptor) Running() bool {
	return atomic.LoadInt32(&i.state) == stateRunning
}

func (i *Interruptor) Interrupted() bool {
	return atomic.LoadInt32(&i.state) == stateStopped
}
