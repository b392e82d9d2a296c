package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/limits/reset"
	"mercator-hq/tollgate/pkg/limits/storage"
)

const testConfigYAML = `
store:
  driver: %s
  dsn: %q
  path: %q

rate_limits:
  api:
    window: "1m"
    max: 100
  login:
    window: "15m"
    max: 5
    key_strategy: "subject_or_ip"
    skip_failed_requests: true

quota:
  version: "2026-10"
  tiers:
    - name: free
      limits: {questions: 20, chapterTests: 3}
    - name: gold
      limits: {questions: 5000, chapterTests: 100}

reset:
  hour: 4
  utc_offset_minutes: %d

telemetry:
  logging:
    level: "error"
`

func writeTestConfig(t *testing.T, driver, dsn, path string, offset int) string {
	t.Helper()
	content := strings.NewReplacer(
		"driver: %s", "driver: "+driver,
		"dsn: %q", "dsn: \""+dsn+"\"",
		"path: %q", "path: \""+path+"\"",
		"utc_offset_minutes: %d", "utc_offset_minutes: "+itoa(offset),
	).Replace(testConfigYAML)

	cfgPath := filepath.Join(t.TempDir(), "tollgate.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return cfgPath
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"run", "validate", "sweep", "next-reset", "version"} {
		if sub, _, err := cmd.Find([]string{name}); err != nil || sub.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}

	for flag, short := range map[string]string{"config": "c", "verbose": "v", "output": "o"} {
		f := cmd.PersistentFlags().Lookup(flag)
		if f == nil {
			t.Errorf("persistent flag --%s missing", flag)
			continue
		}
		if f.Shorthand != short {
			t.Errorf("--%s shorthand = %q, want %q", flag, f.Shorthand, short)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "Tollgate "+Version) {
		t.Errorf("unexpected output %q", out)
	}
}

func TestValidateCommand(t *testing.T) {
	cfg := writeTestConfig(t, "memory", "", "", 0)

	out, err := execute(t, "validate", "-c", cfg)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	for _, want := range []string{"Configuration valid", "free", "gold", "5,000", "login", "subject_or_ip"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestValidateCommand_JSONRedactsDSN(t *testing.T) {
	cfg := writeTestConfig(t, "postgres", "postgres://quota:s3cret@db:5432/quota", "", 330)

	out, err := execute(t, "validate", "-c", cfg, "-o", "json")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if strings.Contains(out, "s3cret") {
		t.Fatalf("password leaked in output: %s", out)
	}

	var summary configSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(summary.Tiers) != 2 || summary.Tiers[1].Limits["questions"] != 5000 {
		t.Errorf("unexpected tiers %+v", summary.Tiers)
	}
	if summary.DefaultTier != "free" || summary.Reset.Zone != "UTC+05:30" {
		t.Errorf("unexpected summary %+v", summary)
	}
	if len(summary.RateLimits) != 2 || summary.RateLimits[0].Name != "api" {
		t.Errorf("expected sorted rate limits, got %+v", summary.RateLimits)
	}
}

func TestValidateCommand_Errors(t *testing.T) {
	tests := []struct {
		name     string
		args     func(t *testing.T) []string
		wantCode int
	}{
		{
			name:     "missing file",
			args:     func(t *testing.T) []string { return []string{"validate", "-c", filepath.Join(t.TempDir(), "nope.yaml")} },
			wantCode: cli.ExitConfig,
		},
		{
			name: "invalid store",
			args: func(t *testing.T) []string {
				return []string{"validate", "-c", writeTestConfig(t, "mysql", "", "", 0)}
			},
			wantCode: cli.ExitConfig,
		},
		{
			name: "bad output format",
			args: func(t *testing.T) []string {
				return []string{"validate", "-c", writeTestConfig(t, "memory", "", "", 0), "-o", "yaml"}
			},
			wantCode: cli.ExitError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args(t)...)
			if err == nil {
				t.Fatal("expected error")
			}
			if code := cli.ExitCode(err); code != tt.wantCode {
				t.Errorf("exit code = %d, want %d (%v)", code, tt.wantCode, err)
			}
		})
	}
}

func TestNextResetCommand(t *testing.T) {
	tests := []struct {
		name   string
		offset int
		at     string
		count  string
		want   []string
	}{
		{
			name:   "utc",
			offset: 0,
			at:     "2026-10-19T22:30:00Z",
			count:  "2",
			want:   []string{"2026-10-20T04:00:00Z", "2026-10-21T04:00:00Z"},
		},
		{
			name:   "exactly at reset hour rolls over",
			offset: 330,
			at:     "2026-10-19T22:30:00Z",
			count:  "1",
			want:   []string{"2026-10-20T22:30:00Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := writeTestConfig(t, "memory", "", "", tt.offset)
			out, err := execute(t, "next-reset", "-c", cfg, "--at", tt.at, "-n", tt.count, "-o", "json")
			if err != nil {
				t.Fatalf("next-reset failed: %v", err)
			}

			var got nextResetOutput
			if err := json.Unmarshal([]byte(out), &got); err != nil {
				t.Fatalf("output is not JSON: %v\n%s", err, out)
			}
			if len(got.Resets) != len(tt.want) {
				t.Fatalf("expected %d resets, got %v", len(tt.want), got.Resets)
			}
			for i, want := range tt.want {
				if got.Resets[i].Format(time.RFC3339) != want {
					t.Errorf("reset %d = %s, want %s", i, got.Resets[i].Format(time.RFC3339), want)
				}
			}
		})
	}

	cfg := writeTestConfig(t, "memory", "", "", 0)
	out, err := execute(t, "next-reset", "-c", cfg, "--at", "2026-10-19T22:30:00Z")
	if err != nil {
		t.Fatalf("next-reset failed: %v", err)
	}
	if !strings.Contains(out, "2026-10-20T04:00:00Z") || !strings.Contains(out, "after reference") {
		t.Errorf("unexpected text output %q", out)
	}

	if _, err := execute(t, "next-reset", "-c", cfg, "--at", "tomorrow"); err == nil {
		t.Error("expected error for invalid --at")
	}
}

func TestSweepCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "quota.db")
	cfg := writeTestConfig(t, "sqlite", "", dbPath, 0)
	ctx := context.Background()

	due := time.Date(2026, 10, 19, 4, 0, 0, 0, time.UTC)
	store, err := storage.Open(ctx, storage.Options{Driver: "sqlite", Path: dbPath})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for _, rec := range []*storage.Record{
		{SubjectID: "u1", Tier: "free", Usage: map[string]int64{"questions": 7}, ResetAt: due, LastUpdated: due, CreatedAt: due},
		{SubjectID: "u2", Tier: "gold", Usage: map[string]int64{"questions": 3}, ResetAt: due.Add(24 * time.Hour), LastUpdated: due, CreatedAt: due},
	} {
		if err := store.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	store.Close()

	out, err := execute(t, "sweep", "-c", cfg, "--at", "2026-10-19T12:00:00Z", "-o", "json")
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	var result reset.SweepResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if result.ResetCount != 1 || len(result.Subjects) != 1 || result.Subjects[0] != "u1" {
		t.Errorf("unexpected result %+v", result)
	}
	if want := time.Date(2026, 10, 20, 4, 0, 0, 0, time.UTC); !result.NextReset.Equal(want) {
		t.Errorf("next reset = %v, want %v", result.NextReset, want)
	}

	store, err = storage.Open(ctx, storage.Options{Driver: "sqlite", Path: dbPath})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	u1, _ := store.Find(ctx, "u1")
	if u1.Used("questions") != 0 || !u1.ResetAt.Equal(result.NextReset) {
		t.Errorf("expected u1 reset, got %+v", u1)
	}
	u2, _ := store.Find(ctx, "u2")
	if u2.Used("questions") != 3 {
		t.Errorf("expected u2 untouched, got %+v", u2)
	}

	// A second sweep at the same instant finds nothing due.
	out, err = execute(t, "sweep", "-c", cfg, "--at", "2026-10-19T12:00:00Z")
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if !strings.Contains(out, "reset 0 records") {
		t.Errorf("unexpected text output %q", out)
	}
}

func TestRunCommand_DryRun(t *testing.T) {
	cfg := writeTestConfig(t, "memory", "", "", 0)

	out, err := execute(t, "run", "-c", cfg, "--dry-run")
	if err != nil {
		t.Fatalf("run --dry-run failed: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Errorf("unexpected output %q", out)
	}
}
