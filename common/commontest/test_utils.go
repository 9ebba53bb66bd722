package commontest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Test utils
// These live outside a _test.go file so they can be shared by tests in other packages

type Predicate func() (bool, error)

func WaitUntil(t *testing.T, predicate Predicate) {
	t.Helper()
	WaitUntilWithDur(t, predicate, 10*time.Second)
}

func WaitUntilWithDur(t *testing.T, predicate Predicate, timeout time.Duration) {
	t.Helper()
	complete, err := WaitUntilWithError(predicate, timeout, time.Millisecond)
	require.NoError(t, err)
	require.True(t, complete, "timed out waiting for predicate")
}

func WaitUntilWithError(predicate Predicate, timeout time.Duration, sleepTime time.Duration) (bool, error) {
	start := time.Now()
	for {
		complete, err := predicate()
		if err != nil {
			return false, err
		}
		if complete {
			return true, nil
		}
		time.Sleep(sleepTime)
		if time.Since(start) >= timeout {
			return false, nil
		}
	}
}

// RequireDurationBelow fails the test if f takes max or longer to return.
func RequireDurationBelow(t *testing.T, max time.Duration, f func()) {
	t.Helper()
	start := time.Now()
	f()
	dur := time.Since(start)
	require.Less(t, int64(dur), int64(max), "took %v, limit %v", dur, max)
}
