package sandbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"Rewind/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDaytona struct {
	deleted  atomic.Int32
	program  atomic.Value
	exitCode int
	stdout   string
	delay    time.Duration
}

func (f *fakeDaytona) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sandbox", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":"sb-1"}`))
	})
	mux.HandleFunc("POST /toolbox/sb-1/toolbox/process/execute", func(w http.ResponseWriter, r *http.Request) {
		var req executeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.program.Store(decodeCommand(t, req.Command))
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-r.Context().Done():
				return
			}
		}
		_ = json.NewEncoder(w).Encode(executeResponse{ExitCode: f.exitCode, Result: f.stdout})
	})
	mux.HandleFunc("DELETE /sandbox/sb-1", func(w http.ResponseWriter, r *http.Request) {
		f.deleted.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

var commandRe = regexp.MustCompile(`echo ([A-Za-z0-9+/=]+) \|`)

func decodeCommand(t *testing.T, cmd string) string {
	m := commandRe.FindStringSubmatch(cmd)
	if !assert.Len(t, m, 2, "command %q", cmd) {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(m[1])
	assert.NoError(t, err)
	return string(raw)
}

func TestExecuteRunsWrappedProgramAndCleansUp(t *testing.T) {
	fake := &fakeDaytona{stdout: `{"decision":"YES","confidence":0.8}` + "\n"}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k"})
	out, err := c.Execute(context.Background(), "result = {'decision': 'YES'}", map[string]any{"current_price": 0.4})
	require.NoError(t, err)
	assert.Equal(t, 0, out.ExitCode)
	assert.Contains(t, out.Stdout, `"decision":"YES"`)
	assert.Equal(t, int32(1), fake.deleted.Load())

	program, _ := fake.program.Load().(string)
	assert.Contains(t, program, "result = {'decision': 'YES'}")
	assert.Contains(t, program, "print(json.dumps(result")
}

func TestExecuteReportsNonZeroExit(t *testing.T) {
	fake := &fakeDaytona{exitCode: 1, stdout: "Traceback: NameError"}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	out, err := New(Config{BaseURL: srv.URL, APIKey: "k"}).Execute(context.Background(), "boom()", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out.ExitCode)
	assert.Equal(t, int32(1), fake.deleted.Load())
}

func TestExecuteTimeout(t *testing.T) {
	fake := &fakeDaytona{delay: 2 * time.Second}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k", ExecTimeout: 50 * time.Millisecond})
	_, err := c.Execute(context.Background(), "while True: pass", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSandboxTimeout)
	assert.Equal(t, int32(1), fake.deleted.Load())
}

func TestExecuteCreateFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Execute(context.Background(), "x = 1", nil)
	assert.ErrorIs(t, err, models.ErrServiceUnavailable)
	assert.NotErrorIs(t, err, models.ErrSandboxTimeout)
}

func TestWrapEmbedsContext(t *testing.T) {
	program, err := Wrap("result = context['a']", map[string]int{"a": 1})
	require.NoError(t, err)

	lines := strings.Split(program, "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	m := regexp.MustCompile(`b64decode\("([^"]+)"\)`).FindStringSubmatch(lines[2])
	require.Len(t, m, 2)
	raw, err := base64.StdEncoding.DecodeString(m[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(raw))
	assert.Contains(t, program, "if 'result' not in globals():")

	_, err = Wrap("x", make(chan int))
	assert.ErrorIs(t, err, models.ErrValidationFailure)
}
