package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opentree/loopctl/internal/loopctlerr"
)

func outputPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "output.json")
}

func TestRunDecodesValidOutput(t *testing.T) {
	out := outputPath(t)
	script := `cat > /dev/null; printf '{"status":"done","summary":"finished the thing"}' > ` + shQuote(out)
	c := NewClient("sh", []string{"-c", script})

	res, err := c.Run(context.Background(), "do the thing", out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Output.Status != StatusDone {
		t.Fatalf("status = %q, want done", res.Output.Status)
	}
	if res.Output.Summary != "finished the thing" {
		t.Fatalf("summary = %q", res.Output.Summary)
	}
}

func TestRunRejectsMalformedOutput(t *testing.T) {
	out := outputPath(t)
	script := `printf 'not json' > ` + shQuote(out)
	c := NewClient("sh", []string{"-c", script})

	_, err := c.Run(context.Background(), "", out)
	var infraErr *loopctlerr.ExecutorInfraError
	if !errors.As(err, &infraErr) || infraErr.Kind != loopctlerr.KindOutputBad {
		t.Fatalf("err = %v, want ExecutorInfraError{Kind: OutputBad}", err)
	}
}

func TestRunRejectsOutputFailingSchema(t *testing.T) {
	out := outputPath(t)
	script := `printf '{"status":"maybe","summary":"x"}' > ` + shQuote(out)
	c := NewClient("sh", []string{"-c", script})

	_, err := c.Run(context.Background(), "", out)
	var infraErr *loopctlerr.ExecutorInfraError
	if !errors.As(err, &infraErr) || infraErr.Kind != loopctlerr.KindOutputBad {
		t.Fatalf("err = %v, want ExecutorInfraError{Kind: OutputBad}", err)
	}
}

func TestRunDetectsMissingOutputFile(t *testing.T) {
	out := outputPath(t)
	c := NewClient("sh", []string{"-c", "true"})

	_, err := c.Run(context.Background(), "", out)
	var infraErr *loopctlerr.ExecutorInfraError
	if !errors.As(err, &infraErr) || infraErr.Kind != loopctlerr.KindOutputMissing {
		t.Fatalf("err = %v, want ExecutorInfraError{Kind: OutputMissing}", err)
	}
}

func TestRunClassifiesNonzeroExit(t *testing.T) {
	out := outputPath(t)
	c := NewClient("sh", []string{"-c", "exit 1"})

	_, err := c.Run(context.Background(), "", out)
	var infraErr *loopctlerr.ExecutorInfraError
	if !errors.As(err, &infraErr) || infraErr.Kind != loopctlerr.KindNonzeroExit {
		t.Fatalf("err = %v, want ExecutorInfraError{Kind: NonzeroExit}", err)
	}
}

func TestRunClassifiesTimeout(t *testing.T) {
	out := outputPath(t)
	c := NewClient("sh", []string{"-c", "sleep 5"}, WithTimeout(50*time.Millisecond))

	_, err := c.Run(context.Background(), "", out)
	var infraErr *loopctlerr.ExecutorInfraError
	if !errors.As(err, &infraErr) || infraErr.Kind != loopctlerr.KindTimeout {
		t.Fatalf("err = %v, want ExecutorInfraError{Kind: Timeout}", err)
	}
}

func TestRunClassifiesSpawnError(t *testing.T) {
	out := outputPath(t)
	c := NewClient("loopctl-definitely-not-a-real-binary", nil)

	_, err := c.Run(context.Background(), "", out)
	var infraErr *loopctlerr.ExecutorInfraError
	if !errors.As(err, &infraErr) || infraErr.Kind != loopctlerr.KindSpawnError {
		t.Fatalf("err = %v, want ExecutorInfraError{Kind: SpawnError}", err)
	}
}

func TestRunRemovesStaleOutputBeforeSpawn(t *testing.T) {
	out := outputPath(t)
	if err := os.WriteFile(out, []byte(`{"status":"done","summary":"stale"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewClient("sh", []string{"-c", "exit 1"})

	_, err := c.Run(context.Background(), "", out)
	var infraErr *loopctlerr.ExecutorInfraError
	if !errors.As(err, &infraErr) || infraErr.Kind != loopctlerr.KindNonzeroExit {
		t.Fatalf("expected NonzeroExit (stale file must not satisfy the run), got %v", err)
	}
}

func shQuote(s string) string {
	return "'" + s + "'"
}
