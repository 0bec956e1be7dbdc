package guard

import (
	"context"
	"testing"
	"time"
)

func TestRunSkippedWhenNoCommand(t *testing.T) {
	c := NewClient(nil)
	res := c.Run(context.Background())
	if res.Outcome != Skipped {
		t.Fatalf("outcome = %s, want skipped", res.Outcome)
	}
}

func TestRunPassOnZeroExit(t *testing.T) {
	c := NewClient([]string{"sh", "-c", "echo ok; exit 0"})
	res := c.Run(context.Background())
	if res.Outcome != Pass {
		t.Fatalf("outcome = %s, want pass", res.Outcome)
	}
}

func TestRunFailOnNonzeroExit(t *testing.T) {
	c := NewClient([]string{"sh", "-c", "echo nope; exit 1"})
	res := c.Run(context.Background())
	if res.Outcome != Fail {
		t.Fatalf("outcome = %s, want fail", res.Outcome)
	}
}

func TestRunErrorOnTimeout(t *testing.T) {
	c := NewClient([]string{"sh", "-c", "sleep 5"}, WithTimeout(50*time.Millisecond))
	res := c.Run(context.Background())
	if res.Outcome != Error {
		t.Fatalf("outcome = %s, want error", res.Outcome)
	}
}

func TestRunErrorOnMissingBinary(t *testing.T) {
	c := NewClient([]string{"loopctl-definitely-not-a-real-binary"})
	res := c.Run(context.Background())
	if res.Outcome != Error {
		t.Fatalf("outcome = %s, want error", res.Outcome)
	}
}

func TestRunCapturesCombinedOutput(t *testing.T) {
	c := NewClient([]string{"sh", "-c", "echo from-stdout; echo from-stderr 1>&2"})
	res := c.Run(context.Background())
	if len(res.Output) == 0 {
		t.Fatal("expected non-empty captured output")
	}
}
