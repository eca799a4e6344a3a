package logging

import (
	"testing"

	"go.viam.com/test"
)

func TestNewLoggers(t *testing.T) {
	test.That(t, NewLogger("engine"), test.ShouldNotBeNil)
	test.That(t, NewDebugLogger("engine"), test.ShouldNotBeNil)
	test.That(t, NewTestLogger(t), test.ShouldNotBeNil)
}

func TestReplaceGlobal(t *testing.T) {
	prev := Global()
	defer ReplaceGlobal(prev)

	logger := NewTestLogger(t)
	ReplaceGlobal(logger)
	test.That(t, Global(), test.ShouldEqual, logger)

	Global().Debug("global logger wired")
}
