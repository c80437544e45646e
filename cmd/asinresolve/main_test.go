package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"asinresolve/internal/bench"
	"asinresolve/internal/config"
	"asinresolve/internal/sources/fixture"
	"asinresolve/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	base := testsupport.BaseDir(cfg)
	catalogPath := filepath.Join(base, "catalog.json")
	testsupport.WriteJSON(t, catalogPath, []fixture.Book{
		{Identifier: "B01681T8YI", Title: "Elantris", Author: "Brandon Sanderson", ISBN: "9780765350378"},
		{Identifier: "B002GYI9C4", Title: "The Final Empire", Author: "Brandon Sanderson"},
		{Identifier: "B00KWG9M2E", Title: "Dune", Author: "Frank Herbert"},
	})
	cfg.Sources = append(cfg.Sources, config.Source{
		Name:   "catalog",
		Type:   config.SourceTypeFixture,
		Domain: "fixture.catalog",
		Path:   catalogPath,
	})

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestCLIResolveJSON(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"--json", "resolve", "--title", "Elantris", "--author", "Brandon Sanderson"}, env.configPath)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var res struct {
		Status     string `json:"status"`
		Identifier string `json:"identifier"`
		Source     string `json:"source"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if res.Status != "found" || res.Identifier != "B01681T8YI" || res.Source != "catalog" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCLIResolveRequiresTitleOrISBN(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"resolve", "--author", "Frank Herbert"}, env.configPath); err == nil {
		t.Fatal("expected error without title or isbn")
	}
}

func TestCLIResolveTable(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"resolve", "Dune", "--attempts"}, env.configPath)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, want := range []string{"B00KWG9M2E", "found", "catalog"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCLIBatchCSVWritesOrderedOutput(t *testing.T) {
	env := setupCLITestEnv(t)
	input := filepath.Join(env.baseDir, "books.csv")
	testsupport.WriteFile(t, input, []byte("title,author,isbn\nDune,Frank Herbert,\nUnknown Book,,\n,,978-0-7653-5037-8\n"))
	output := filepath.Join(env.baseDir, "results.csv")

	_, stderr, err := runCLI(t, []string{"batch", input, "--output", output, "--workers", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("batch: %v (stderr %s)", err, stderr)
	}
	if !strings.Contains(stderr, "Resolved 2/3") {
		t.Fatalf("unexpected summary: %s", stderr)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d:\n%s", len(lines), data)
	}
	if !strings.Contains(lines[1], "B00KWG9M2E") {
		t.Fatalf("row 1 should be Dune: %s", lines[1])
	}
	if !strings.Contains(lines[2], "not_found") {
		t.Fatalf("row 2 should be not_found: %s", lines[2])
	}
	if !strings.Contains(lines[3], "B01681T8YI") {
		t.Fatalf("row 3 should be the ISBN match: %s", lines[3])
	}
}

func TestCLIBatchJSONLToStdout(t *testing.T) {
	env := setupCLITestEnv(t)
	input := filepath.Join(env.baseDir, "books.jsonl")
	testsupport.WriteFile(t, input, []byte("{\"title\":\"The Final Empire\",\"author\":\"Brandon Sanderson\"}\n\n{\"title\":\"Dune\"}\n"))

	out, _, err := runCLI(t, []string{"batch", input}, env.configPath)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 jsonl rows, got %d:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "B002GYI9C4") || !strings.Contains(lines[1], "B00KWG9M2E") {
		t.Fatalf("unexpected rows:\n%s", out)
	}
}

func TestCLIBatchRejectsUnknownFormat(t *testing.T) {
	env := setupCLITestEnv(t)
	input := filepath.Join(env.baseDir, "books.txt")
	testsupport.WriteFile(t, input, []byte("Dune\n"))
	if _, _, err := runCLI(t, []string{"batch", input}, env.configPath); err == nil {
		t.Fatal("expected format error")
	}
}

func TestCLIBatchOutputFormatFlagOverridesExtension(t *testing.T) {
	env := setupCLITestEnv(t)
	input := filepath.Join(env.baseDir, "books.csv")
	testsupport.WriteFile(t, input, []byte("title,author\nDune,Frank Herbert\n"))
	output := filepath.Join(env.baseDir, "results.csv")

	_, stderr, err := runCLI(t, []string{"batch", input, "-o", output, "--output-format", "jsonl"}, env.configPath)
	if err != nil {
		t.Fatalf("batch: %v (stderr %s)", err, stderr)
	}
	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one jsonl row, got %d:\n%s", len(lines), data)
	}
	var row map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &row); err != nil {
		t.Fatalf("output is not jsonl: %v\n%s", err, data)
	}
	if !strings.Contains(lines[0], "B00KWG9M2E") {
		t.Fatalf("unexpected row: %s", lines[0])
	}
}

func TestCLIBatchRejectsUnknownOutputFormat(t *testing.T) {
	env := setupCLITestEnv(t)
	input := filepath.Join(env.baseDir, "books.csv")
	testsupport.WriteFile(t, input, []byte("title\nDune\n"))
	_, _, err := runCLI(t, []string{"batch", input, "--output-format", "xml"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}

func TestCLICacheStatsAfterResolve(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"resolve", "Dune"}, env.configPath); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	out, _, err := runCLI(t, []string{"--json", "cache", "stats"}, env.configPath)
	if err != nil {
		t.Fatalf("cache stats: %v", err)
	}
	var stats struct {
		TotalEntries int64 `json:"total_entries"`
	}
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalEntries != 1 {
		t.Fatalf("expected 1 cached entry, got %d", stats.TotalEntries)
	}

	if _, _, err := runCLI(t, []string{"cache", "clear"}, env.configPath); err == nil {
		t.Fatal("clear without --yes should fail")
	}
	out, _, err = runCLI(t, []string{"cache", "clear", "--yes"}, env.configPath)
	if err != nil {
		t.Fatalf("cache clear: %v", err)
	}
	if !strings.Contains(out, "Removed 1 entries") {
		t.Fatalf("unexpected clear output: %s", out)
	}
}

func TestCLICacheMigrate(t *testing.T) {
	env := setupCLITestEnv(t)
	legacy := filepath.Join(env.baseDir, "legacy.json")
	testsupport.WriteJSON(t, legacy, map[string]any{
		"dune|frank herbert": map[string]any{"asin": "B00KWG9M2E", "title": "Dune", "author": "Frank Herbert"},
		"broken":             "not-an-asin",
	})

	out, _, err := runCLI(t, []string{"--json", "cache", "migrate", legacy}, env.configPath)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	var report struct {
		Imported int `json:"imported"`
		Skipped  int `json:"skipped"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Imported != 1 || report.Skipped != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if _, err := os.Stat(legacy); err != nil {
		t.Fatalf("legacy file should remain: %v", err)
	}
}

func TestCLIConfigInit(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "asinresolve.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("output should name target: %s", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config not written: %v", err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected error when config exists")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}

func TestCLIConfigValidateAndShow(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Fatalf("unexpected output: %s", out)
	}

	out, _, err = runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	parsed, err := config.Parse([]byte(out))
	if err != nil {
		t.Fatalf("shown config should parse: %v", err)
	}
	if len(parsed.Sources) != 1 || parsed.Sources[0].Name != "catalog" {
		t.Fatalf("unexpected sources: %+v", parsed.Sources)
	}
}

func TestCLIConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	testsupport.WriteFile(t, path, []byte("[resolver]\nconfidence_threshold = 3.0\n"))
	if _, _, err := runCLI(t, []string{"config", "validate"}, path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestCLILimits(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"--json", "limits"}, env.configPath)
	if err != nil {
		t.Fatalf("limits: %v", err)
	}
	var states []struct {
		Domain   string `json:"domain"`
		Capacity int    `json:"capacity"`
	}
	if err := json.Unmarshal([]byte(out), &states); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(states) != 1 || states[0].Domain != "fixture.catalog" || states[0].Capacity != env.cfg.RateLimits.DefaultCapacity {
		t.Fatalf("unexpected states: %+v", states)
	}
}

func TestCLIBenchRunSaveAndCompare(t *testing.T) {
	env := setupCLITestEnv(t)
	scenario := filepath.Join(env.baseDir, "smoke.json")
	testsupport.WriteJSON(t, scenario, map[string]any{
		"requests": []map[string]string{
			{"title": "Dune"},
			{"title": "Elantris", "author": "Brandon Sanderson"},
		},
	})

	out, _, err := runCLI(t, []string{"bench", "run", scenario, "--save", "--iterations", "2", "--warmups", "0"}, env.configPath)
	if err != nil {
		t.Fatalf("bench run: %v", err)
	}
	if !strings.Contains(out, "Saved ") {
		t.Fatalf("expected saved path in output:\n%s", out)
	}

	entries, err := os.ReadDir(env.cfg.Bench.ResultsDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one saved record, err=%v entries=%d", err, len(entries))
	}
	recordPath := filepath.Join(env.cfg.Bench.ResultsDir, entries[0].Name())
	rec, err := bench.Load(recordPath)
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if rec.Name != "smoke" || rec.Iterations != 2 || rec.SuccessRate != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	out, _, err = runCLI(t, []string{"bench", "compare", recordPath, recordPath}, env.configPath)
	if err != nil {
		t.Fatalf("self compare should not regress: %v", err)
	}
	if !strings.Contains(out, "OK") {
		t.Fatalf("unexpected comparison:\n%s", out)
	}

	if _, _, err := runCLI(t, []string{"bench", "show", recordPath}, ""); err != nil {
		t.Fatalf("bench show: %v", err)
	}
}

func TestCLIDoctorReportsFixtureSource(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"doctor"}, env.configPath)
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	if !strings.Contains(out, "catalog") || !strings.Contains(out, "[OK]") {
		t.Fatalf("unexpected doctor output:\n%s", out)
	}
}

func TestCLIBatchPublishesNotification(t *testing.T) {
	var (
		mu     sync.Mutex
		titles []string
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		titles = append(titles, r.Header.Get("Title"))
		bodies = append(bodies, string(body))
		mu.Unlock()
	}))
	defer srv.Close()

	env := setupCLITestEnv(t)
	env.cfg.Notifications.NtfyTopic = srv.URL + "/books"
	writeTestConfig(t, env.configPath, env.cfg)

	input := filepath.Join(env.baseDir, "books.jsonl")
	testsupport.WriteFile(t, input, []byte("{\"title\":\"Dune\"}\n{\"title\":\"Unknown Book\"}\n"))
	if _, _, err := runCLI(t, []string{"batch", input}, env.configPath); err != nil {
		t.Fatalf("batch: %v", err)
	}

	if _, _, err := runCLI(t, []string{"notify", "test"}, env.configPath); err != nil {
		t.Fatalf("notify test: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(titles) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(titles))
	}
	if titles[0] != "asinresolve - Batch Complete" || !strings.HasPrefix(bodies[0], "Resolved 1 of 2") {
		t.Fatalf("unexpected batch notification: %q %q", titles[0], bodies[0])
	}
	if titles[1] != "asinresolve - Test" {
		t.Fatalf("unexpected test notification: %q", titles[1])
	}
}

func TestCLINotifyTestRequiresTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"notify", "test"}, env.configPath); err == nil {
		t.Fatal("expected error without ntfy topic")
	}
}
