package common

import (
	"os"
	"runtime/debug"

	"github.com/squareup/ksession/log"
)

var panicLogger = log.NewLogger("main")

// exit is replaced in tests.
var exit = os.Exit

// PanicHandler logs a panic raised in the deferring goroutine along with its stack, then exits with status 1.
func PanicHandler() {
	r := recover()
	if r == nil {
		return
	}
	handlePanic(r, debug.Stack())
}

func handlePanic(r interface{}, stack []byte) {
	panicLogger.Errorf(nil, "panic occurred in ksession: %v\n%s", r, stack)
	exit(1)
}
