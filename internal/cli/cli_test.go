package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pfrederiksen/dpwh-projects/internal/rotation"
	"github.com/pfrederiksen/dpwh-projects/internal/storage"
)

// testEnv is a data directory with a config file and a regions file that
// point at a local listing server. Region I serves the fixture page and
// Region II always fails.
type testEnv struct {
	configPath  string
	regionsPath string
	dataDir     string
}

func newTestEnv(t *testing.T, extraConfig ...string) *testEnv {
	t.Helper()

	page, err := os.ReadFile("../../testdata/fixtures/region_page.html")
	if err != nil {
		t.Fatalf("failed to load test fixture: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/region-1" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write(page)
			return
		}
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	env := &testEnv{
		configPath:  filepath.Join(dir, "config.yaml"),
		regionsPath: filepath.Join(dir, "regions.yaml"),
		dataDir:     filepath.Join(dir, "data"),
	}

	cfg := fmt.Sprintf(`
storage:
  driver: file
  data_dir: %s
schedule:
  min_delay: 1ms
  max_delay: 1ms
logging:
  level: error
  format: json
`, env.dataDir) + strings.Join(extraConfig, "\n")
	regions := fmt.Sprintf(`
regions:
  - name: Region I
    url: %s/region-1
  - name: Region II
    url: %s/region-2
`, server.URL, server.URL)

	if err := os.WriteFile(env.configPath, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(env.regionsPath, []byte(regions), 0644); err != nil {
		t.Fatal(err)
	}
	return env
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--config", e.configPath))
	err := cmd.Execute()
	return out.String(), err
}

func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("%v failed: %v\n%s", args, err, out)
	}
	return out
}

func TestCommands_ScrapeAndReport(t *testing.T) {
	env := newTestEnv(t)

	out := env.mustRun(t, "seed-regions", "--file", env.regionsPath)
	if !strings.Contains(out, "Seeded 2 regions.") {
		t.Errorf("seed-regions output = %q", out)
	}

	var scrape ScrapeOutput
	out = env.mustRun(t, "scrape", "--format", "json")
	if err := json.Unmarshal([]byte(out), &scrape); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if scrape.Totals.Regions != 2 || scrape.Totals.Failed != 1 {
		t.Errorf("totals = %+v, want 2 regions with 1 failure", scrape.Totals)
	}
	if scrape.Totals.New != 2 {
		t.Errorf("new projects = %d, want 2", scrape.Totals.New)
	}
	if scrape.Regions[0].Region != "Region I" || !scrape.Regions[0].Success {
		t.Errorf("first result = %+v", scrape.Regions[0])
	}

	var changes ChangesOutput
	out = env.mustRun(t, "changes", "--format", "json")
	if err := json.Unmarshal([]byte(out), &changes); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if changes.Count != 2 {
		t.Errorf("changes count = %d, want 2", changes.Count)
	}

	out = env.mustRun(t, "scrape", "--region", "region i")
	if !strings.Contains(out, "Region I: 0 new, 0 updated, 0 missing") {
		t.Errorf("second scrape output = %q", out)
	}

	out = env.mustRun(t, "changes", "--limit", "1")
	if !strings.Contains(out, "Total: 1 changes") {
		t.Errorf("changes --limit 1 output = %q", out)
	}
}

func TestCommands_Rotation(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "seed-regions", "--file", env.regionsPath)

	var next NextOutput
	out := env.mustRun(t, "scrape-next", "--format", "json")
	if err := json.Unmarshal([]byte(out), &next); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if next.Region != "Region I" || !next.Result.Success {
		t.Errorf("first tick = %+v", next)
	}

	// Region II fails but the tick itself succeeds.
	out = env.mustRun(t, "scrape-next")
	if !strings.Contains(out, "FAILED Region II") || !strings.Contains(out, "Rotation: 2/2") {
		t.Errorf("second tick output = %q", out)
	}

	var st rotation.Status
	out = env.mustRun(t, "rotation", "--format", "json")
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if st.Position != 2 || st.NextRegion == nil || st.NextRegion.Name != "Region I" {
		t.Errorf("rotation status = %+v", st)
	}

	out = env.mustRun(t, "rotation", "--reset")
	if !strings.Contains(out, "Last scraped: (none)") || !strings.Contains(out, "Position:     ?/2") {
		t.Errorf("rotation --reset output = %q", out)
	}
}

func TestCommands_ScrapeNextSkipsWhenBusy(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "seed-regions", "--file", env.regionsPath)

	other, err := storage.NewFileStore(env.dataDir)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	lease, err := other.Obtain(context.Background(), "dpwh:lock:rotation", time.Minute)
	if err != nil {
		t.Fatalf("Obtain failed: %v", err)
	}

	out := env.mustRun(t, "scrape-next")
	if !strings.Contains(out, "Skipped: another run holds the rotation lease.") {
		t.Errorf("busy tick output = %q", out)
	}

	var st rotation.Status
	out = env.mustRun(t, "rotation", "--format", "json")
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if st.LastRegion != nil || st.Position != 0 {
		t.Errorf("a skipped tick should not move the cursor, got %+v", st)
	}

	_ = lease.Release(context.Background())
	out = env.mustRun(t, "scrape-next")
	if !strings.Contains(out, "Region I") {
		t.Errorf("tick after release = %q", out)
	}
}

func TestCommands_DryRun(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "seed-regions", "--file", env.regionsPath)

	out := env.mustRun(t, "scrape", "--region", "Region I", "--dry-run")
	if !strings.Contains(out, "Dry run: 2 records not saved.") {
		t.Errorf("dry run output = %q", out)
	}

	out = env.mustRun(t, "changes")
	if !strings.Contains(out, "No changes recorded.") {
		t.Errorf("dry run should not record changes, got %q", out)
	}
}

func TestCommands_Verbose(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "seed-regions", "--file", env.regionsPath)

	out := env.mustRun(t, "scrape", "--region", "Region I", "--verbose")
	if !strings.Contains(out, "Found: ") || !strings.Contains(out, "Unchanged: 0") {
		t.Errorf("verbose scrape output = %q", out)
	}

	env.mustRun(t, "rotation", "--verbose")
}

func TestCommands_Watch(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "seed-regions", "--file", env.regionsPath)

	env.mustRun(t, "watch", "--ticks", "2", "--interval", "1ms", "--metrics-addr", "off")

	var st rotation.Status
	out := env.mustRun(t, "rotation", "--format", "json")
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if st.Position != 2 {
		t.Errorf("position after two ticks = %d, want 2", st.Position)
	}
}

func TestCommands_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no regions seeded", []string{"scrape"}, "no active regions"},
		{"rotation without regions", []string{"scrape-next"}, "no active regions"},
		{"unknown region", []string{"scrape", "--region", "Atlantis"}, "no active region named"},
		{"bad format", []string{"scrape", "--format", "xml"}, "invalid format"},
		{"bad sort", []string{"scrape", "--sort", "size"}, "invalid sort order"},
		{"bad storage", []string{"changes", "--storage", "postgres"}, "invalid configuration"},
		{"negative limit", []string{"changes", "--limit", "-1"}, "invalid limit"},
		{"bad interval", []string{"watch", "--interval", "0s"}, "invalid interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.run(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestCommands_NotifyLog(t *testing.T) {
	env := newTestEnv(t, "notify:\n  target: log\n  types: [created]\n  max_posts: 1\n")
	env.mustRun(t, "seed-regions", "--file", env.regionsPath)

	out := env.mustRun(t, "scrape", "--region", "Region I")
	if !strings.Contains(out, "--- Post 1/1 ---") || !strings.Contains(out, "New DPWH project listed") {
		t.Errorf("expected one printed post, got:\n%s", out)
	}

	// Nothing changed, nothing to post.
	out = env.mustRun(t, "scrape", "--region", "Region I")
	if strings.Contains(out, "--- Post") {
		t.Errorf("unchanged scrape should not post, got:\n%s", out)
	}
}

func TestCommands_SQLiteStorage(t *testing.T) {
	env := newTestEnv(t)

	env.mustRun(t, "seed-regions", "--file", env.regionsPath, "--storage", "sqlite")
	out := env.mustRun(t, "scrape", "--region", "Region I", "--storage", "sqlite")
	if !strings.Contains(out, "Region I: 2 new") {
		t.Errorf("sqlite scrape output = %q", out)
	}

	out = env.mustRun(t, "changes", "--storage", "sqlite")
	if !strings.Contains(out, "Total: 2 changes") {
		t.Errorf("sqlite changes output = %q", out)
	}
}
