package cli

import (
	"bytes"
	"os"
	"testing"

	"github.com/opentree/loopctl/internal/tree"
	"github.com/opentree/loopctl/internal/workspace"
)

// TestRunLoopDrivesToFullCompletion drives a whole run end to end through
// the CLI's loop driver: the root node is decomposed into three leaves, each
// of which is declared done and passes its guard, after which the derived
// root passes and the loop reports terminal completion.
func TestRunLoopDrivesToFullCompletion(t *testing.T) {
	dir := initGitRepo(t)
	withRoot(t, dir, func() {
		if _, err := runStart("Build a calculator", ""); err != nil {
			t.Fatalf("runStart: %v", err)
		}
	})
	paths := workspace.New(dir)
	writeGuardCommand(t, paths, `["true"]`)
	commitAll(t, dir, "test: pin guard command")

	decomposeScript := `cat > ` + paths.TreePath() + ` <<'EOF'
{
  "version": 1,
  "root": {
    "id": "r", "order": 0, "title": "", "goal": "Build a calculator",
    "acceptance": [], "next": "decompose", "passes": false, "attempts": 0, "max_attempts": 3,
    "children": [
      {"id":"c1","order":1,"title":"","goal":"add","acceptance":[],"next":"execute","passes":false,"attempts":0,"max_attempts":3,"children":[]},
      {"id":"c2","order":2,"title":"","goal":"sub","acceptance":[],"next":"execute","passes":false,"attempts":0,"max_attempts":3,"children":[]},
      {"id":"c3","order":3,"title":"","goal":"mul","acceptance":[],"next":"execute","passes":false,"attempts":0,"max_attempts":3,"children":[]}
    ]
  }
}
EOF
printf '{"status":"decomposed","summary":"split into 3 steps"}' > {output}`

	script := `prompt=$(cat)
case "$prompt" in
  *"Selected node: r "*)
` + decomposeScript + `
    ;;
  *)
    printf '{"status":"done","summary":"implemented"}' > {output}
    ;;
esac
`

	var out bytes.Buffer
	withRoot(t, dir, func() {
		fakeCmd := newLoopCmd()
		fakeCmd.SetOut(&out)
		if err := runLoop(fakeCmd, []string{"sh", "-c", script}, 20); err != nil {
			t.Fatalf("runLoop: %v", err)
		}
	})

	tr, err := tree.NewStore(paths.TreePath()).Load()
	if err != nil {
		t.Fatalf("loading final tree: %v", err)
	}
	if !tr.Root.Passes {
		t.Fatalf("expected root to pass after full completion, got %+v", tr.Root)
	}
	for _, c := range tr.Root.Children {
		if !c.Passes {
			t.Fatalf("expected child %s to pass, got %+v", c.ID, c)
		}
	}
}

func TestExpandAgentArgvReplacesOutputPlaceholder(t *testing.T) {
	got := expandAgentArgv([]string{"agent", "exec", "--output-last-message", "{output}", "-"}, "/ws/context/agent_output.json")
	want := []string{"agent", "exec", "--output-last-message", "/ws/context/agent_output.json", "-"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("argv[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExpandAgentArgvLeavesPlainArgvUntouched(t *testing.T) {
	in := []string{"sh", "-c", "echo hi"}
	got := expandAgentArgv(in, "/ws/context/agent_output.json")
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("argv[%d] = %q, want %q", i, got[i], in[i])
		}
	}
}

// writeGuardCommand overwrites the workspace's guard_command with guardJSON
// (a TOML array literal, e.g. `["true"]`), so the test doesn't depend on the
// default `make ci` recipe existing in a throwaway temp repo.
func writeGuardCommand(t *testing.T, paths workspace.Paths, guardJSON string) {
	t.Helper()
	content := "iteration_budget_seconds = 1800\n" +
		"default_max_attempts = 3\n" +
		"guard_command = " + guardJSON + "\n" +
		`forbidden_branches = ["main", "master", "release/*"]` + "\n"
	if err := os.WriteFile(paths.ConfigPath(), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
