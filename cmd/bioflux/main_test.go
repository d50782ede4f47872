package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/spf13/cobra"
)

// newTestRootCmd creates a root command with the persistent flags, so
// subcommands resolve them the way they do under the real root.
func newTestRootCmd(sub *cobra.Command) *cobra.Command {
	rootCmd := &cobra.Command{Use: "bioflux"}
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file")
	rootCmd.PersistentFlags().StringP("outdir", "o", ".bioflux", "Output directory")
	rootCmd.PersistentFlags().String("log-level", "", "Log level")
	rootCmd.AddCommand(sub)
	return rootCmd
}

// captureStdout runs fn with os.Stdout redirected to a pipe and returns
// what it wrote.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	runErr := fn()
	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatalf("read pipe: %v", err)
	}
	return buf.String(), runErr
}

func TestNewVersionCmd(t *testing.T) {
	cmd := newVersionCmd()
	if cmd.Use != "version" {
		t.Errorf("Use = %q, want %q", cmd.Use, "version")
	}
}

func TestVersionCmdJSON(t *testing.T) {
	root := newTestRootCmd(newVersionCmd())
	root.SetArgs([]string{"version", "--json"})
	out, err := captureStdout(t, root.Execute)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if got["version"] != version {
		t.Errorf("version = %q, want %q", got["version"], version)
	}
}

func TestSeedCmdCreatesRun(t *testing.T) {
	outdir := t.TempDir()
	root := newTestRootCmd(newSeedCmd())
	root.SetArgs([]string{"seed", "--json", "--outdir", outdir})
	out, err := captureStdout(t, root.Execute)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got["cells"].(float64) <= 0 {
		t.Errorf("cells = %v, want > 0", got["cells"])
	}
	if got["run_id"].(float64) < 1 {
		t.Errorf("run_id = %v, want >= 1", got["run_id"])
	}

	// Re-seeding the same config reuses the run.
	root2 := newTestRootCmd(newSeedCmd())
	root2.SetArgs([]string{"seed", "--json", "--outdir", outdir})
	out2, err := captureStdout(t, root2.Execute)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var got2 map[string]any
	if err := json.Unmarshal([]byte(out2), &got2); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if got2["run_id"] != got["run_id"] {
		t.Errorf("re-seed created run %v, want reuse of %v", got2["run_id"], got["run_id"])
	}
}

func TestStatusCmdListsSeededRun(t *testing.T) {
	outdir := t.TempDir()
	seed := newTestRootCmd(newSeedCmd())
	seed.SetArgs([]string{"seed", "--json", "--outdir", outdir})
	if _, err := captureStdout(t, seed.Execute); err != nil {
		t.Fatalf("seed: %v", err)
	}

	status := newTestRootCmd(newStatusCmd())
	status.SetArgs([]string{"status", "--json", "--outdir", outdir})
	out, err := captureStdout(t, status.Execute)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var runs []map[string]any
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	phases, ok := runs[0]["phases"].([]any)
	if !ok || len(phases) != 0 {
		t.Errorf("seeded run phases = %v, want none", runs[0]["phases"])
	}
}

func TestSimCmdRequiresInitState(t *testing.T) {
	outdir := t.TempDir()
	root := newTestRootCmd(newSimCmd())
	root.SetArgs([]string{"sim", "--outdir", outdir})
	root.SilenceErrors = true
	root.SilenceUsage = true
	if _, err := captureStdout(t, root.Execute); err == nil {
		t.Error("sim without an init state should fail")
	}
}

func TestExportCmdRequiresRun(t *testing.T) {
	outdir := t.TempDir()
	root := newTestRootCmd(newExportCmd())
	root.SetArgs([]string{"export", "--outdir", outdir})
	root.SilenceErrors = true
	root.SilenceUsage = true
	if _, err := captureStdout(t, root.Execute); err == nil {
		t.Error("export without a stored run should fail")
	}
}
