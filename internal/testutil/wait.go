// Package testutil holds helpers shared by package tests: condition polling
// and metric assertions.
package testutil

import (
	"testing"
	"time"
)

// Poll bounds how long and how often a condition is re-evaluated.
type Poll struct {
	Timeout  time.Duration
	Interval time.Duration
}

var (
	// Quick suits unit tests driving in-memory fakes.
	Quick = Poll{Timeout: 5 * time.Second, Interval: 10 * time.Millisecond}

	// Slow suits integration tests against a real daemon.
	Slow = Poll{Timeout: 30 * time.Second, Interval: 500 * time.Millisecond}
)

// WaitFor evaluates condition until it returns true or the timeout passes.
// condition runs at least once, and once more after the deadline.
func (p Poll) WaitFor(condition func() bool) bool {
	deadline := time.Now().Add(p.Timeout)
	for {
		if condition() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(p.Interval)
	}
}

// MustWaitFor is WaitFor that fails the test on timeout. what describes the
// awaited condition in the failure message.
func (p Poll) MustWaitFor(tb testing.TB, what string, condition func() bool) {
	tb.Helper()
	if !p.WaitFor(condition) {
		tb.Fatalf("timed out after %s waiting for %s", p.Timeout, what)
	}
}
