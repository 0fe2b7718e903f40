package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/focusguard/internal/config"
	"github.com/jask/focusguard/internal/secrets"
	"github.com/jask/focusguard/internal/service"
)

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("FOCUSGUARD_CONFIG", filepath.Join(dir, "config.toml"))
	t.Setenv("FOCUSGUARD_DATABASE_PATH", filepath.Join(dir, "data", "focusguard.db"))
	t.Setenv("FOCUSGUARD_ORACLE_PROVIDER", "offline")
	t.Setenv("FOCUSGUARD_LOG_PATH", filepath.Join(dir, "focusguard.log"))
}

func run(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	cmd.SetIn(stdin)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestProfileSearchAndHistory(t *testing.T) {
	setupEnv(t)

	out, err := run(t, nil, "-u", "sam", "profile", "set", "--role", "student", "--name", "Sam")
	require.NoError(t, err)
	require.Contains(t, out, "sam is now a student")

	out, err = run(t, nil, "-u", "sam", "search", "photosynthesis")
	require.NoError(t, err)
	require.Contains(t, out, "photosynthesis (student)")
	require.Contains(t, out, "[trusted] Wikipedia: photosynthesis")

	_, err = run(t, nil, "-u", "sam", "search", "cell", "division")
	require.NoError(t, err)

	out, err = run(t, nil, "-u", "sam", "history", "list")
	require.NoError(t, err)
	require.Equal(t, "cell division\nphotosynthesis\n", out)

	_, err = run(t, nil, "-u", "sam", "history", "delete", "cell", "division")
	require.NoError(t, err)
	out, err = run(t, nil, "-u", "sam", "history", "list")
	require.NoError(t, err)
	require.Equal(t, "photosynthesis\n", out)

	_, err = run(t, nil, "-u", "sam", "history", "clear")
	require.NoError(t, err)
	out, err = run(t, nil, "-u", "sam", "history", "list")
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestSearchWithoutRoleIsInvalidInput(t *testing.T) {
	setupEnv(t)

	_, err := run(t, nil, "search", "anything")
	require.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestRejectedSearch(t *testing.T) {
	setupEnv(t)

	_, err := run(t, nil, "search", "--role", "teacher", "celebrity", "gossip")
	require.ErrorIs(t, err, service.ErrRejectedByOracle)

	out, err := run(t, nil, "history", "list")
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestProfileUseSwitchesActive(t *testing.T) {
	setupEnv(t)

	_, err := run(t, nil, "-u", "lee", "profile", "set", "--role", "teacher")
	require.NoError(t, err)
	out, err := run(t, nil, "profile", "use", "lee")
	require.NoError(t, err)
	require.Contains(t, out, "active profile: lee (teacher)")

	out, err = run(t, nil, "profile", "show")
	require.NoError(t, err)
	require.Regexp(t, `(?m)^\*\s+lee\s`, out)
}

func TestLockPauseNeedsSecret(t *testing.T) {
	setupEnv(t)

	_, err := run(t, nil, "-u", "ana", "profile", "set", "--role", "researcher")
	require.NoError(t, err)
	_, err = run(t, strings.NewReader("hunter2\n"), "-u", "ana", "secret", "set")
	require.NoError(t, err)

	script := strings.Join([]string{
		":pause wrong",
		":pause hunter2",
		":status",
		"protein folding",
		":reload",
		":resume",
		":end",
	}, "\n") + "\n"
	out, err := run(t, strings.NewReader(script), "-u", "ana", "lock", "--minutes", "1", "--tick", "1h")
	require.NoError(t, err)
	require.Contains(t, out, "locked for 1m0s")
	require.Contains(t, out, "incorrect secret; still locked")
	require.Contains(t, out, "paused, 1m0s left")
	require.Contains(t, out, "searching is paused with the session")
	require.Contains(t, out, "cannot reload: the offline oracle has nothing to reload")
	require.Contains(t, out, "resumed")
	require.Contains(t, out, "session ended after 0s")

	out, err = run(t, nil, "-u", "ana", "sessions")
	require.NoError(t, err)
	require.Contains(t, out, "1 sessions")
}

func TestLockWithoutSecretCannotPause(t *testing.T) {
	setupEnv(t)

	_, err := run(t, nil, "-u", "ana", "profile", "set", "--role", "researcher")
	require.NoError(t, err)
	out, err := run(t, strings.NewReader(":pause anything\n"), "-u", "ana", "lock", "--minutes", "1", "--tick", "1h")
	require.NoError(t, err)
	require.Contains(t, out, "incorrect secret; still locked")
	// stdin EOF ends the session
	require.Contains(t, out, "session ended")
}

func TestLockExpires(t *testing.T) {
	setupEnv(t)

	_, err := run(t, nil, "-u", "ana", "profile", "set", "--role", "student")
	require.NoError(t, err)

	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })
	out, err := run(t, pr, "-u", "ana", "lock", "--minutes", "1", "--tick", "1ms")
	require.NoError(t, err)
	require.Contains(t, out, "session expired after 1m0s")
}

func TestResetNeedsConfirmation(t *testing.T) {
	setupEnv(t)

	_, err := run(t, nil, "-u", "sam", "profile", "set", "--role", "student")
	require.NoError(t, err)
	_, err = run(t, nil, "reset")
	require.Error(t, err)

	out, err := run(t, nil, "reset", "--yes")
	require.NoError(t, err)
	require.Contains(t, out, "all data cleared")

	out, err = run(t, nil, "profile", "show")
	require.NoError(t, err)
	require.NotContains(t, out, "sam")
	require.Contains(t, out, "local")
}

func TestSeedWritesSamples(t *testing.T) {
	setupEnv(t)

	_, err := run(t, nil, "seed")
	require.NoError(t, err)
	out, err := run(t, nil, "-u", "sam", "history", "list")
	require.NoError(t, err)
	require.Contains(t, out, "quadratic formula")
}

func TestLockPrintsEachFullMinute(t *testing.T) {
	setupEnv(t)

	_, err := run(t, nil, "-u", "ana", "profile", "set", "--role", "student")
	require.NoError(t, err)

	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })
	out, err := run(t, pr, "-u", "ana", "lock", "--minutes", "2", "--tick", "1ms")
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(out, "1m0s left"))
	require.Contains(t, out, "session expired after 2m0s")
}

// hookReader runs fn before its first read.
type hookReader struct {
	once sync.Once
	fn   func()
	r    io.Reader
}

func (h *hookReader) Read(p []byte) (int, error) {
	h.once.Do(h.fn)
	return h.r.Read(p)
}

func TestLockReloadPicksUpNewKeyAndModel(t *testing.T) {
	setupEnv(t)

	var mu sync.Mutex
	var auths, models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		auths = append(auths, r.Header.Get("Authorization"))
		models = append(models, body.Model)
		mu.Unlock()

		content := `{"isValid": true, "reason": "ok", "suggestedLinks": [{"title": "Cells", "url": "https://openstax.org/cells", "snippet": "ch 4"}]}`
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": body.Model,
			"choices": []map[string]any{{
				"index": 0, "finish_reason": "stop",
				"message": map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)

	t.Setenv("FOCUSGUARD_ORACLE_PROVIDER", "openai")
	t.Setenv("FOCUSGUARD_ORACLE_BASE_URL", srv.URL+"/v1")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := run(t, nil, "-u", "ana", "profile", "set", "--role", "researcher")
	require.NoError(t, err)
	_, err = run(t, strings.NewReader("sk-old\n"), "secret", "key", "openai")
	require.NoError(t, err)

	// swap the stored key and model between the first query and :reload
	var hookErr error
	in := io.MultiReader(
		strings.NewReader("cell biology\n"),
		&hookReader{
			fn: func() {
				store, err := secrets.NewStore("")
				if err != nil {
					hookErr = err
					return
				}
				if hookErr = store.StoreProviderKey("openai", "sk-new"); hookErr != nil {
					return
				}
				cfg, err := config.Load()
				if err != nil {
					hookErr = err
					return
				}
				cfg.Oracle.Model = "gpt-4o"
				hookErr = config.Save(cfg)
			},
			r: strings.NewReader(":reload\ncell biology\n:end\n"),
		},
	)
	out, err := run(t, in, "-u", "ana", "lock", "--minutes", "1", "--tick", "1h")
	require.NoError(t, err)
	require.NoError(t, hookErr)
	require.Contains(t, out, "oracle reloaded (model gpt-4o)")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"Bearer sk-old", "Bearer sk-new"}, auths)
	require.Equal(t, []string{"gpt-4o-mini", "gpt-4o"}, models)
}

func TestConfigInitAndSet(t *testing.T) {
	setupEnv(t)

	out, err := run(t, nil, "config", "init")
	require.NoError(t, err)
	require.Contains(t, out, "config.toml")
	_, err = run(t, nil, "config", "init")
	require.Error(t, err)

	out, err = run(t, nil, "config", "set", "session.default_minutes", "2")
	require.NoError(t, err)
	require.Equal(t, "session.default_minutes = 2\n", out)
	_, err = run(t, nil, "config", "set", "oracle.api_key", "sk-x")
	require.Error(t, err)

	_, err = run(t, nil, "-u", "ana", "profile", "set", "--role", "student")
	require.NoError(t, err)
	out, err = run(t, strings.NewReader(":end\n"), "-u", "ana", "lock", "--tick", "1h")
	require.NoError(t, err)
	require.Contains(t, out, "locked for 2m0s")
}
