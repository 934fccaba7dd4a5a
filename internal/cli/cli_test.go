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
)

// runCLI executes the root command with args. Tests in this package share
// the command tree and flag variables, so none of them run in parallel.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append(args, "--env-file", ""))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := Execute(context.Background())
	return out.String(), errOut.String(), err
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	now := time.Now().UTC()
	recent := now.Add(-time.Hour).Format(time.RFC3339)
	stale := now.Add(-72 * time.Hour).Format(time.RFC3339)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/starred-feeds":
			_, _ = w.Write([]byte(`[{"id":"s1","name":"Go Blog"}]`))
		case "/v1/posts":
			fmt.Fprintf(w, `[
				{"id":"recent","feed_id":"s1","title":"Recent post","url":"https://example.com/recent","published_at":%q,"created_at":%q},
				{"id":"stale","feed_id":"s1","title":"Stale post","url":"https://example.com/stale","published_at":%q,"created_at":%q},
				{"id":"other","feed_id":"s2","title":"Not starred","url":"https://example.com/other","published_at":%q,"created_at":%q}
			]`, recent, recent, stale, stale, recent, recent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	p := filepath.Join(dir, "starwatch.yaml")
	body := fmt.Sprintf(`content:
  base_url: %s
presenter:
  surface: log
logging:
  level: error
storage:
  driver: file
  path: %s
`, srv.URL, filepath.Join(dir, "sw"))
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestExecuteVersion(t *testing.T) {
	out, _, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.HasPrefix(out, "starwatch "+Version) {
		t.Fatalf("output = %q", out)
	}
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "24h", want: 24 * time.Hour},
		{in: "90m", want: 90 * time.Minute},
		{in: "7d", want: 7 * 24 * time.Hour},
		{in: "0d", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseDuration(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseDuration(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("parseDuration(%q) = %s, %v; want %s", tc.in, got, err, tc.want)
		}
	}
}

func TestCheckDryRunJSON(t *testing.T) {
	cfg := writeTestConfig(t)
	out, _, err := runCLI(t, "check", "--config", cfg, "--dry-run=true", "--since", "24h", "--format", "json")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	var res checkResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res.Sources != 1 || res.Items != 3 || res.Skipped {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Novel) != 1 || res.Novel[0].ID != "recent" {
		t.Fatalf("novel = %+v, want only recent", res.Novel)
	}
}

func TestCheckDryRunSkipsFailedFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/posts" {
			http.Error(w, `{"error":"Database error"}`, http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"s1","name":"Go Blog"}]`))
	}))
	defer srv.Close()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "starwatch.yaml")
	body := fmt.Sprintf("content:\n  base_url: %s\npresenter:\n  surface: log\nlogging:\n  level: error\nstorage:\n  driver: none\n", srv.URL)
	if err := os.WriteFile(cfg, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, _, err := runCLI(t, "check", "--config", cfg, "--dry-run=true", "--since", "24h", "--format", "json")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	var res checkResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if !res.Skipped || len(res.Errors) == 0 || len(res.Novel) != 0 {
		t.Fatalf("result = %+v, want skipped with errors and no novel items", res)
	}
}

func TestCheckRejectsBadFlags(t *testing.T) {
	cfg := writeTestConfig(t)
	if _, _, err := runCLI(t, "check", "--config", cfg, "--dry-run=true", "--since=-1h", "--format", "text"); err == nil {
		t.Fatal("expected error for negative --since")
	}
	if _, _, err := runCLI(t, "check", "--config", cfg, "--dry-run=true", "--since", "24h", "--format", "xml"); err == nil {
		t.Fatal("expected error for unknown --format")
	}
}

func TestConsentGatesCheck(t *testing.T) {
	cfg := writeTestConfig(t)

	out, _, err := runCLI(t, "consent", "status", "--config", cfg)
	if err != nil || strings.TrimSpace(out) != "log: unknown" {
		t.Fatalf("status = %q, %v", out, err)
	}

	// Without consent the cycle runs but nothing is shown.
	out, errOut, err := runCLI(t, "check", "--config", cfg, "--dry-run=false", "--since", "24h", "--format", "text")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out, "1 new item(s)") || !strings.Contains(out, "0 alert(s) presented") {
		t.Fatalf("check output = %q", out)
	}
	if !strings.Contains(errOut, "permission unknown") {
		t.Fatalf("stderr = %q", errOut)
	}

	out, _, err = runCLI(t, "consent", "request", "--config", cfg)
	if err != nil || strings.TrimSpace(out) != "log: granted" {
		t.Fatalf("request = %q, %v", out, err)
	}

	out, _, err = runCLI(t, "check", "--config", cfg, "--dry-run=false", "--since", "24h", "--format", "text")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out, "Recent post") || !strings.Contains(out, "1 alert(s) presented") {
		t.Fatalf("check output = %q", out)
	}

	out, _, err = runCLI(t, "consent", "revoke", "--config", cfg)
	if err != nil || strings.TrimSpace(out) != "log: unknown" {
		t.Fatalf("revoke = %q, %v", out, err)
	}
}
