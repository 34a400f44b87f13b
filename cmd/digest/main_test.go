package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/chapter-digest/internal/testutil"
	"github.com/Sternrassler/chapter-digest/pkg/checkpoint"
	"github.com/Sternrassler/chapter-digest/pkg/credential"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// workspace is a temporary project layout: an input dir, a checkpoint dir
// and an output path.
type workspace struct {
	input       string
	checkpoints string
	output      string
}

func newWorkspace(t *testing.T, chapters int) workspace {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	root := t.TempDir()
	ws := workspace{
		input:       filepath.Join(root, "txt"),
		checkpoints: filepath.Join(root, "tmp"),
		output:      filepath.Join(root, "summary.txt"),
	}
	if chapters > 0 {
		if err := os.MkdirAll(ws.input, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	for i := 1; i <= chapters; i++ {
		name := filepath.Join(ws.input, fmt.Sprintf("%03d.txt", i))
		if err := os.WriteFile(name, []byte(fmt.Sprintf("chapter %d text", i)), 0o644); err != nil {
			t.Fatalf("write chapter: %v", err)
		}
	}
	return ws
}

// args returns the flags every run in these tests shares.
func (ws workspace) args(command string, extra ...string) []string {
	args := []string{
		command,
		"--input-dir", ws.input,
		"--checkpoint-dir", ws.checkpoints,
		"--output", ws.output,
		"--retry-delay", "1ms",
		"--file-retry-delay", "1ms",
		"--poll-interval", "10ms",
		"--wait-timeout", "5s",
	}
	return append(args, extra...)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := cmd.ExecuteContext(ctx)
	return stdout.String(), err
}

func readOutput(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	return string(data)
}

func TestRun_EndToEnd(t *testing.T) {
	mock := testutil.NewMockCompletions()
	defer mock.Close()

	ws := newWorkspace(t, 3)
	stdout, err := execute(t, ws.args("run",
		"--api-endpoint", mock.URL(),
		"--api-keys", "key-one,key-two",
		"--workers", "2",
		"--metrics-addr", "127.0.0.1:0",
	)...)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := mock.GetRequestCount(); got != 3 {
		t.Errorf("Expected 3 requests, got %d", got)
	}
	for _, req := range mock.Requests() {
		if req.Authorization != "Bearer key-one" && req.Authorization != "Bearer key-two" {
			t.Errorf("Unexpected Authorization %q", req.Authorization)
		}
		if req.Model != "gpt-4.1-mini" {
			t.Errorf("Expected default model, got %q", req.Model)
		}
	}

	if !strings.Contains(stdout, "succeeded: 3") {
		t.Errorf("Expected report with 3 successes, got:\n%s", stdout)
	}

	merged := readOutput(t, ws.output)
	entries := strings.Split(merged, "\n\n")
	if len(entries) != 3 {
		t.Fatalf("Expected 3 merged entries, got %d", len(entries))
	}
	for i, entry := range entries {
		header := fmt.Sprintf("%03d summary: gpt-4.1-mini\n%s\n", i+1, strings.Repeat("=", 40))
		if !strings.HasPrefix(entry, header) {
			t.Errorf("Entry %d: expected header %q, got %q", i+1, header, entry[:min(len(entry), 60)])
		}
	}
}

func TestRun_SecondRunSkipsExisting(t *testing.T) {
	mock := testutil.NewMockCompletions()
	defer mock.Close()

	ws := newWorkspace(t, 3)
	args := ws.args("run", "--api-endpoint", mock.URL(), "--api-keys", "k1")

	if _, err := execute(t, args...); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	first := readOutput(t, ws.output)
	mock.Reset()

	stdout, err := execute(t, args...)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if got := mock.GetRequestCount(); got != 0 {
		t.Errorf("Expected no requests on second run, got %d", got)
	}
	if !strings.Contains(stdout, "skipped:   3") {
		t.Errorf("Expected 3 skipped, got:\n%s", stdout)
	}
	if second := readOutput(t, ws.output); second != first {
		t.Error("Expected identical merged output after second run")
	}
}

func TestRun_EnvironmentAndConfigFile(t *testing.T) {
	mock := testutil.NewMockCompletions()
	defer mock.Close()

	ws := newWorkspace(t, 2)
	configPath := filepath.Join(t.TempDir(), "digest.yaml")
	config := "api:\n  models: [model-a, model-b]\nretry:\n  base-delay: 1ms\n"
	if err := os.WriteFile(configPath, []byte(config), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("DIGEST_API_ENDPOINT", mock.URL())
	t.Setenv("DIGEST_API_KEYS", "env-key-1, env-key-2")
	t.Setenv("DIGEST_API_USER_AGENT", "digest-test/1.0")

	if _, err := execute(t, ws.args("run", "--config", configPath, "--workers", "1")...); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	requests := mock.Requests()
	if len(requests) != 2 {
		t.Fatalf("Expected 2 requests, got %d", len(requests))
	}
	models := map[string]string{}
	for _, req := range requests {
		if req.UserAgent != "digest-test/1.0" {
			t.Errorf("Expected User-Agent from env, got %q", req.UserAgent)
		}
		if !strings.HasPrefix(req.Authorization, "Bearer env-key-") {
			t.Errorf("Expected env credential, got %q", req.Authorization)
		}
		switch {
		case strings.Contains(req.UserContent(), "chapter 1 text"):
			models["1"] = req.Model
		case strings.Contains(req.UserContent(), "chapter 2 text"):
			models["2"] = req.Model
		}
	}
	if models["1"] != "model-a" || models["2"] != "model-b" {
		t.Errorf("Expected rotation model-a/model-b, got %v", models)
	}
}

func TestRun_ShortSummaryMarkedFailed(t *testing.T) {
	mock := testutil.NewMockCompletions()
	defer mock.Close()
	mock.SetResponder(func(req testutil.RecordedRequest, _ int) testutil.MockResponse {
		if strings.Contains(req.UserContent(), "chapter 2 text") {
			return testutil.NewCompletionResponse("tiny")
		}
		return testutil.NewCompletionResponse(testutil.DefaultSummary)
	})

	ws := newWorkspace(t, 3)
	stdout, err := execute(t, ws.args("run", "--api-endpoint", mock.URL(), "--api-keys", "k1,k2")...)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := mock.GetRequestCount(); got != 4 {
		t.Errorf("Expected 4 requests (2 for the short chapter), got %d", got)
	}
	if !strings.Contains(stdout, "failed:    1") {
		t.Errorf("Expected one failure, got:\n%s", stdout)
	}
	entries := strings.Split(readOutput(t, ws.output), "\n\n")
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	if !strings.Contains(entries[1], checkpoint.FailureMarker) {
		t.Errorf("Expected failure marker in entry 2, got %q", entries[1])
	}

	stdout, err = execute(t, ws.args("verify")...)
	if !errors.Is(err, errIncomplete) {
		t.Errorf("Expected errIncomplete, got %v", err)
	}
	if !strings.Contains(stdout, "failed:  2") {
		t.Errorf("Expected chapter 2 listed as failed, got:\n%s", stdout)
	}
}

func TestRun_ConfigurationErrors(t *testing.T) {
	mock := testutil.NewMockCompletions()
	defer mock.Close()

	tests := []struct {
		name    string
		extra   []string
		wantErr error
		wantMsg string
	}{
		{
			name:    "no credentials",
			extra:   []string{"--api-keys", " , "},
			wantErr: credential.ErrNoCredentials,
		},
		{
			name:    "invalid existing mode",
			extra:   []string{"--api-keys", "k1", "--existing", "replace"},
			wantMsg: "invalid checkpoint mode",
		},
		{
			name:    "invalid backend",
			extra:   []string{"--api-keys", "k1", "--store", "s3"},
			wantMsg: "invalid checkpoint backend",
		},
		{
			name:    "zero workers",
			extra:   []string{"--api-keys", "k1", "--workers", "0"},
			wantMsg: "workers must be >= 1",
		},
		{
			name:    "invalid log level",
			extra:   []string{"--api-keys", "k1", "--log-level", "verbose"},
			wantMsg: "verbose",
		},
		{
			name:    "invalid endpoint",
			extra:   []string{"--api-keys", "k1", "--api-endpoint", "ftp://example.com"},
			wantMsg: "endpoint must be an http(s) URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := newWorkspace(t, 2)
			args := append([]string{"--api-endpoint", mock.URL()}, tt.extra...)
			_, err := execute(t, ws.args("run", args...)...)
			if err == nil {
				t.Fatal("Expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected error containing %q, got %v", tt.wantMsg, err)
			}
			if _, statErr := os.Stat(ws.output); !os.IsNotExist(statErr) {
				t.Error("Expected no output file after a configuration error")
			}
		})
	}

	if got := mock.GetRequestCount(); got != 0 {
		t.Errorf("Expected no requests, got %d", got)
	}
}

func TestRun_WaitTimeout(t *testing.T) {
	ws := newWorkspace(t, 0)
	_, err := execute(t, ws.args("run", "--api-keys", "k1", "--wait-timeout", "50ms")...)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
}

func TestMerge_RebuildsOutput(t *testing.T) {
	mock := testutil.NewMockCompletions()
	defer mock.Close()

	ws := newWorkspace(t, 2)
	if _, err := execute(t, ws.args("run", "--api-endpoint", mock.URL(), "--api-keys", "k1")...); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	want := readOutput(t, ws.output)
	if err := os.Remove(ws.output); err != nil {
		t.Fatalf("remove output: %v", err)
	}

	stdout, err := execute(t, ws.args("merge")...)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if !strings.Contains(stdout, "merged 2 entries") {
		t.Errorf("Unexpected merge output: %q", stdout)
	}
	if got := readOutput(t, ws.output); got != want {
		t.Errorf("Rebuilt output differs:\nwant %q\ngot  %q", want, got)
	}
}

func TestVerify(t *testing.T) {
	mock := testutil.NewMockCompletions()
	defer mock.Close()

	ws := newWorkspace(t, 3)

	stdout, err := execute(t, ws.args("verify")...)
	if !errors.Is(err, errIncomplete) {
		t.Errorf("Expected errIncomplete on empty store, got %v", err)
	}
	if !strings.Contains(stdout, "missing: 1, 2, 3") {
		t.Errorf("Expected all missing, got:\n%s", stdout)
	}

	if _, err := execute(t, ws.args("run", "--api-endpoint", mock.URL(), "--api-keys", "k1")...); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	stdout, err = execute(t, ws.args("verify")...)
	if err != nil {
		t.Errorf("Expected complete store, got %v", err)
	}
	for _, want := range []string{"first: 1", "last:  3", "present: 3/3", "missing: none"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("Expected %q in:\n%s", want, stdout)
		}
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil", nil, nil},
		{"separate values", []string{"a", "b"}, []string{"a", "b"}},
		{"comma joined", []string{"a,b"}, []string{"a", "b"}},
		{"blanks and spaces", []string{" a , ", "", " b"}, []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitList(tt.in)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("splitList(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRedisOptions(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantAddr string
		wantDB   int
		wantErr  bool
	}{
		{name: "host and port", raw: "localhost:6379", wantAddr: "localhost:6379"},
		{name: "url with db", raw: "redis://cache:6380/3", wantAddr: "cache:6380", wantDB: 3},
		{name: "invalid scheme", raw: "http://cache:6379", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := redisOptions(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if opts.Addr != tt.wantAddr || opts.DB != tt.wantDB {
				t.Errorf("Got addr=%q db=%d, want addr=%q db=%d", opts.Addr, opts.DB, tt.wantAddr, tt.wantDB)
			}
		})
	}
}

func setupTestRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping Redis container test in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Redis container not available: %v", err)
	}
	t.Cleanup(func() {
		redisC.Terminate(ctx)
	})

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}
	return host + ":" + port.Port()
}

func TestRun_RedisStore(t *testing.T) {
	addr := setupTestRedis(t)

	mock := testutil.NewMockCompletions()
	defer mock.Close()

	ws := newWorkspace(t, 3)
	redisArgs := []string{"--store", "redis", "--redis-url", addr, "--namespace", "cmd-test"}

	args := append([]string{"--api-endpoint", mock.URL(), "--api-keys", "k1,k2"}, redisArgs...)
	if _, err := execute(t, ws.args("run", args...)...); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := mock.GetRequestCount(); got != 3 {
		t.Errorf("Expected 3 requests, got %d", got)
	}
	if _, err := os.Stat(ws.checkpoints); !os.IsNotExist(err) {
		t.Error("Expected no file checkpoints with the redis backend")
	}

	stdout, err := execute(t, ws.args("verify", redisArgs...)...)
	if err != nil {
		t.Errorf("Expected complete redis store, got %v", err)
	}
	if !strings.Contains(stdout, "present: 3/3") {
		t.Errorf("Unexpected verify output:\n%s", stdout)
	}
}

func TestVerify_ListsStrayFiles(t *testing.T) {
	mock := testutil.NewMockCompletions()
	defer mock.Close()

	ws := newWorkspace(t, 2)
	if _, err := execute(t, ws.args("run", "--api-endpoint", mock.URL(), "--api-keys", "k1")...); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, name := range []string{"notes.txt", "draft-3.txt"} {
		if err := os.WriteFile(filepath.Join(ws.checkpoints, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	stdout, err := execute(t, ws.args("verify")...)
	if err != nil {
		t.Errorf("Stray files should not make the store incomplete, got %v", err)
	}
	if !strings.Contains(stdout, "not numbered: draft-3.txt, notes.txt") {
		t.Errorf("Expected stray files listed, got:\n%s", stdout)
	}
}
