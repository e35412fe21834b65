package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"timelock/internal/clock"
	"timelock/internal/seal"
	"timelock/internal/testutil"
)

const testNow = int64(1_700_000_000)

// cli runs commands in-process against one data directory.
type cli struct {
	t       *testing.T
	dataDir string
	clock   clock.Source
}

func newCLI(t *testing.T, source clock.Source) *cli {
	t.Helper()
	dataDir := t.TempDir()
	t.Setenv("TIMELOCK_STORAGE__DIR", dataDir)
	return &cli{t: t, dataDir: dataDir, clock: source}
}

// run executes args with stdin and returns stdout, stderr and the error.
func (c *cli) run(ctx context.Context, stdin string, args ...string) (string, string, error) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	e := &env{
		stdin:  strings.NewReader(stdin),
		stdout: &stdout,
		stderr: &stderr,
		clock:  c.clock,
	}
	cmd := newRootCmd(e)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func TestEncrypt_OutputContract(t *testing.T) {
	c := newCLI(t, clock.NewManual(time.Unix(testNow, 0)))

	stdout, stderr, err := c.run(context.Background(), "test secret data", "encrypt", "--log.level", "warn")
	if err != nil {
		t.Fatalf("encrypt failed: %v\nstderr: %s", err, stderr)
	}

	// Stderr must be empty on success
	if stderr != "" {
		t.Errorf("stderr should be empty on success, got: %q", stderr)
	}

	// Stdout is exactly the ID and a newline
	id := strings.TrimSpace(stdout)
	if !testutil.IsUUID(id) {
		t.Errorf("stdout should contain only a UUID, got: %q", stdout)
	}
	if stdout != id+"\n" {
		t.Errorf("stdout should be exactly ID + newline, got: %q", stdout)
	}

	// The envelope and the generated devnet secret live in the data dir.
	if _, err := os.Stat(filepath.Join(c.dataDir, id, "meta.json")); err != nil {
		t.Errorf("envelope metadata missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(c.dataDir, "devnet.secret")); err != nil {
		t.Errorf("devnet secret missing: %v", err)
	}
}

func TestEncrypt_FromFile(t *testing.T) {
	c := newCLI(t, clock.NewManual(time.Unix(testNow, 0)))
	path := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(path, []byte("from a file"), 0600); err != nil {
		t.Fatal(err)
	}

	stdout, _, err := c.run(context.Background(), "", "encrypt", path, "--release", "5m")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	store, _ := seal.NewStore(c.dataDir)
	env, err := store.Load(strings.TrimSpace(stdout))
	if err != nil {
		t.Fatal(err)
	}
	if env.InputType != "file" || env.OriginalPath != path {
		t.Errorf("expected file input from %s, got %s from %s", path, env.InputType, env.OriginalPath)
	}
	if env.ReleaseTime.Unix() != testNow+300 {
		t.Errorf("expected release %d, got %d", testNow+300, env.ReleaseTime.Unix())
	}
}

func TestEncrypt_Errors(t *testing.T) {
	c := newCLI(t, clock.NewManual(time.Unix(testNow, 0)))

	testCases := []struct {
		name  string
		stdin string
		args  []string
		want  string
	}{
		{"empty input", "", []string{"encrypt"}, "input is empty"},
		{"past release", "x", []string{"encrypt", "--release", "2020-01-01T00:00:00Z"}, "in the future"},
		{"bad release", "x", []string{"encrypt", "--release", "soon"}, "invalid time format"},
		{"too many args", "", []string{"encrypt", "a", "b"}, "accepts at most 1 arg"},
		{"bad log level", "x", []string{"encrypt", "--log.level", "loud"}, "invalid log level"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stdout, _, err := c.run(context.Background(), tc.stdin, tc.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error containing %q, got: %v", tc.want, err)
			}
			if stdout != "" {
				t.Errorf("stdout must be empty on error, got: %q", stdout)
			}
		})
	}
}

func TestDecrypt_BeforeAndAfterRelease(t *testing.T) {
	manual := clock.NewManual(time.Unix(testNow, 0))
	c := newCLI(t, manual)
	ctx := context.Background()

	stdout, _, err := c.run(ctx, "hello world", "encrypt", "--release", "2m")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	id := strings.TrimSpace(stdout)

	// A separate invocation shares the devnet through the stored secret.
	_, _, err = c.run(ctx, "", "decrypt", id)
	if !errors.Is(err, seal.ErrStillSealed) {
		t.Fatalf("expected still sealed, got: %v", err)
	}
	if !strings.Contains(err.Error(), "--wait") {
		t.Errorf("error should point at --wait, got: %v", err)
	}

	manual.Set(time.Unix(testNow+130, 0))
	stdout, _, err = c.run(ctx, "", "decrypt", id)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if stdout != "hello world" {
		t.Errorf("expected 'hello world', got %q", stdout)
	}
}

func TestDecrypt_UnknownID(t *testing.T) {
	c := newCLI(t, clock.NewManual(time.Unix(testNow, 0)))

	_, _, err := c.run(context.Background(), "", "decrypt", "00000000-0000-0000-0000-000000000000")
	if err == nil || !strings.Contains(err.Error(), "no sealed item") {
		t.Errorf("expected 'no sealed item' error, got: %v", err)
	}
}

func TestStatus_ListsItems(t *testing.T) {
	manual := clock.NewManual(time.Unix(testNow, 0))
	c := newCLI(t, manual)
	ctx := context.Background()

	stdout, _, err := c.run(ctx, "", "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if stdout != "no sealed items" {
		t.Errorf("expected 'no sealed items', got %q", stdout)
	}

	early, _, err := c.run(ctx, "early", "encrypt", "--release", "1m")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.run(ctx, "late", "encrypt", "--release", "1h"); err != nil {
		t.Fatal(err)
	}
	manual.Set(time.Unix(testNow+120, 0))

	stdout, _, err = c.run(ctx, "", "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(stdout, "id: "+strings.TrimSpace(early)+"\nstate: unlocked\n") {
		t.Errorf("released item should be unlocked:\n%s", stdout)
	}
	if strings.Count(stdout, "state: sealed") != 1 {
		t.Errorf("expected one sealed item:\n%s", stdout)
	}
}

func TestStatus_ReportsCorruption(t *testing.T) {
	c := newCLI(t, clock.NewManual(time.Unix(testNow, 0)))
	ctx := context.Background()

	stdout, _, err := c.run(ctx, "x", "encrypt")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(c.dataDir, strings.TrimSpace(stdout), "payload.bin")); err != nil {
		t.Fatal(err)
	}

	_, _, err = c.run(ctx, "", "status")
	if err == nil || !strings.Contains(err.Error(), "failed validation") {
		t.Errorf("expected validation error, got: %v", err)
	}
}

func TestRPS_PlaysRound(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a real release")
	}
	c := newCLI(t, clock.System)
	t.Setenv("TIMELOCK_RELEASE__MARGIN", "0s")
	t.Setenv("TIMELOCK_RELEASE__TICK", "20ms")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stdout, stderr, err := c.run(ctx, "", "rps", "rock", "scissors", "--delay", "1s")
	if err != nil {
		t.Fatalf("rps failed: %v\nstderr: %s", err, stderr)
	}

	want := "player A: rock\nplayer B: scissors\noutcome: player A wins\n"
	if stdout != want {
		t.Errorf("expected %q, got %q", want, stdout)
	}
	if !strings.Contains(stderr, "moves committed") {
		t.Errorf("expected commit notice on stderr, got %q", stderr)
	}
}

func TestRPS_InvalidMove(t *testing.T) {
	c := newCLI(t, clock.NewManual(time.Unix(testNow, 0)))

	_, _, err := c.run(context.Background(), "", "rps", "rock", "lizard")
	if err == nil || !strings.Contains(err.Error(), "lizard") {
		t.Errorf("expected invalid move error, got: %v", err)
	}
}

func TestRPS_CanceledBeforeReveal(t *testing.T) {
	c := newCLI(t, clock.NewManual(time.Unix(testNow, 0)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	stdout, _, err := c.run(ctx, "", "rps", "paper", "rock")
	if err == nil {
		t.Fatal("expected error when the session is canceled")
	}
	if stdout != "" {
		t.Errorf("no outcome may be printed before the reveal, got %q", stdout)
	}
}

func TestConfigFile(t *testing.T) {
	c := newCLI(t, clock.NewManual(time.Unix(testNow, 0)))
	path := filepath.Join(t.TempDir(), "config.yml")
	cfg := "release:\n  delay: 10m\nlog:\n  level: error\n"
	if err := os.WriteFile(path, []byte(cfg), 0600); err != nil {
		t.Fatal(err)
	}

	stdout, stderr, err := c.run(context.Background(), "x", "encrypt", "--config", path)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if stderr != "" {
		t.Errorf("error level logging should keep stderr quiet, got %q", stderr)
	}

	store, _ := seal.NewStore(c.dataDir)
	env, err := store.Load(strings.TrimSpace(stdout))
	if err != nil {
		t.Fatal(err)
	}
	if env.ReleaseTime.Unix() != testNow+600 {
		t.Errorf("expected configured delay, got release %d", env.ReleaseTime.Unix())
	}
}

func TestConfigFile_Missing(t *testing.T) {
	c := newCLI(t, clock.NewManual(time.Unix(testNow, 0)))

	_, _, err := c.run(context.Background(), "x", "status", "--config", filepath.Join(t.TempDir(), "nope.yml"))
	if err == nil {
		t.Error("expected error for a missing config file")
	}
}

func TestDevnet_ServesUntilCanceled(t *testing.T) {
	c := newCLI(t, clock.System)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, _, err := c.run(ctx, "", "devnet", "--listen", "127.0.0.1:0"); err != nil {
		t.Errorf("devnet should stop cleanly, got: %v", err)
	}
}
