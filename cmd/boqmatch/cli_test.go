package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"boqmatch/internal/api"
	"boqmatch/internal/boq"
	"boqmatch/internal/daemonrun"
	"boqmatch/internal/logging"
	"boqmatch/internal/testsupport"
)

type cliTestEnv struct {
	stack      *daemonrun.Stack
	server     *httptest.Server
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("BOQMATCH_API_TOKEN", "")
	t.Setenv("BOQMATCH_EMBEDDING_API_KEY", "")

	cfg := testsupport.NewConfig(t)
	stack, err := daemonrun.NewStack(context.Background(), cfg, daemonrun.StackOptions{
		Logger:  logging.NewNop(),
		Sleeper: func(time.Duration) {},
	})
	if err != nil {
		t.Fatalf("NewStack failed: %v", err)
	}
	t.Cleanup(func() { _ = stack.Close() })

	router := api.NewRouter(api.Options{
		Jobs:                stack.Coordinator,
		Catalog:             stack.Store,
		Matcher:             stack.Dispatcher,
		Health:              stack.Store.Ping,
		StoreName:           stack.Store.Driver(),
		LogHub:              logging.NewStreamHub(64),
		DefaultMethod:       boq.MethodLocal,
		ConfidenceThreshold: cfg.Matching.ConfidenceThreshold,
		ReviewThreshold:     cfg.Metrics.LowConfidenceThreshold,
		KeepAlive:           50 * time.Millisecond,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &cliTestEnv{
		stack:      stack,
		server:     server,
		configPath: filepath.Join(base, "boqmatch.toml"),
		baseDir:    base,
	}
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	full := append([]string{"--config", env.configPath, "--api", env.server.URL}, args...)
	return runCLI(t, full)
}

func runCLI(t *testing.T, args []string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeFile(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func requireContains(t *testing.T, output, want string) {
	t.Helper()
	if !strings.Contains(output, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, output)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	target := filepath.Join(base, "config.toml")

	out, err := runCLI(t, []string{"config", "init", "--path", target})
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, err := runCLI(t, []string{"config", "init", "--path", target}); err == nil {
		t.Fatal("expected second init without --overwrite to fail")
	}

	out, err = runCLI(t, []string{"--config", target, "config", "validate"})
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Store: sqlite")
}

func TestCatalogImportListAndMatch(t *testing.T) {
	env := setupCLITestEnv(t)
	catalogPath := writeFile(t, env.baseDir, "catalog.csv",
		"ID,Code,Description,Category,Unit,Rate",
		"EW-001,EW.01.001,Excavation in ordinary soil,Earthworks,m3,12.5",
		"EW-002,EW.01.002,Excavation in rock,Earthworks,m3,48",
		"FW-001,FW.01.001,Formwork to sides of foundations,Formwork,m2,22",
	)

	out, err := env.run(t, "catalog", "import", catalogPath)
	if err != nil {
		t.Fatalf("catalog import: %v", err)
	}
	requireContains(t, out, "Imported 3 entries")

	out, err = env.run(t, "catalog", "list")
	if err != nil {
		t.Fatalf("catalog list: %v", err)
	}
	requireContains(t, out, "EW-002")
	requireContains(t, out, "Formwork to sides of foundations")

	out, err = env.run(t, "match", "--unit", "m3", "Excavation in ordinary soil")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	requireContains(t, out, "EW-001")
	requireContains(t, out, "Confident:  yes")

	out, err = env.run(t, "--json", "match", "--top", "2", "--unit", "m3", "Excavation in rock")
	if err != nil {
		t.Fatalf("match --top: %v", err)
	}
	var top api.TopMatchesResponse
	if err := json.Unmarshal([]byte(out), &top); err != nil {
		t.Fatalf("decode top matches: %v\n%s", err, out)
	}
	if len(top.Results) != 2 || top.Results[0].Entry == nil || top.Results[0].Entry.ID != "EW-002" {
		t.Fatalf("unexpected top matches: %+v", top.Results)
	}

	if _, err := env.run(t, "catalog", "deactivate", "EW-002"); err != nil {
		t.Fatalf("catalog deactivate: %v", err)
	}
	out, err = env.run(t, "catalog", "list")
	if err != nil {
		t.Fatalf("catalog list: %v", err)
	}
	if strings.Contains(out, "EW-002") {
		t.Fatalf("deactivated entry should be hidden:\n%s", out)
	}
}

func TestJobWorkflow(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.MustSeedCatalog(t, env.stack.Store)
	billPath := writeFile(t, env.baseDir, "substructure.csv",
		"Item,Description,Qty,Unit",
		"1,Earthworks,,",
		"1.1,Excavation in ordinary soil,120,m3",
		"1.2,Landscaping with topsoil and turf,300,m2",
	)

	out, err := env.run(t, "job", "submit", "--watch", billPath)
	if err != nil {
		t.Fatalf("job submit: %v", err)
	}
	requireContains(t, out, "Submitted job")
	requireContains(t, out, "completed")
	env.stack.Coordinator.Wait()

	out, err = env.run(t, "--json", "job", "list")
	if err != nil {
		t.Fatalf("job list: %v", err)
	}
	var list api.JobListResponse
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode job list: %v\n%s", err, out)
	}
	if len(list.Jobs) != 1 || list.Jobs[0].Name != "substructure" || list.Jobs[0].ItemCount != 2 {
		t.Fatalf("unexpected jobs: %+v", list.Jobs)
	}
	jobID := list.Jobs[0].ID

	out, err = env.run(t, "job", "results", jobID)
	if err != nil {
		t.Fatalf("job results: %v", err)
	}
	requireContains(t, out, "EW-001")

	out, err = env.run(t, "job", "stats", jobID)
	if err != nil {
		t.Fatalf("job stats: %v", err)
	}
	requireContains(t, out, "Matches logged")

	out, err = env.run(t, "job", "review", jobID)
	if err != nil {
		t.Fatalf("job review: %v", err)
	}
	requireContains(t, out, "Landscaping")

	if _, err := env.run(t, "job", "set-match", jobID, "4", "PR-001"); err != nil {
		t.Fatalf("job set-match: %v", err)
	}
	out, err = env.run(t, "job", "results", jobID)
	if err != nil {
		t.Fatalf("job results: %v", err)
	}
	requireContains(t, out, "manual")

	if _, err := env.run(t, "job", "rematch", jobID, "4"); err == nil {
		t.Fatal("expected rematch of a manual row without --force to fail")
	}
	if _, err := env.run(t, "job", "rematch", "--force", jobID, "4"); err != nil {
		t.Fatalf("job rematch --force: %v", err)
	}

	if _, err := env.run(t, "job", "set-match", jobID, "zero", "PR-001"); err == nil {
		t.Fatal("expected invalid row to fail")
	}
	if _, err := env.run(t, "job", "status", "missing-job"); err == nil {
		t.Fatal("expected unknown job to fail")
	}
}

func TestStatusReportsDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "--json", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var report statusReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if report.Daemon != "ok" || report.Store != "sqlite" {
		t.Fatalf("unexpected status report: %+v", report)
	}
	if len(report.Checks) < 2 {
		t.Fatalf("expected directory checks, got %+v", report.Checks)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("unexpected %q", got)
	}
	if got := truncate("Excavation in ordinary soil", 10); got != "Excavatio…" {
		t.Fatalf("unexpected %q", got)
	}
}
