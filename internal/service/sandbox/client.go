package sandbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"Rewind/internal/domain/models"
	"Rewind/internal/domain/service"
	"Rewind/internal/services/gateway"
	"Rewind/pkg/logger"
)

// Config holds the sandbox endpoint, credentials and run limits.
type Config struct {
	BaseURL  string        `yaml:"base_url" default:"https://app.daytona.io/api"`
	APIKey   string        `yaml:"api_key"`
	Language string        `yaml:"language" default:"python"`
	Timeout  time.Duration `yaml:"timeout" default:"60s"`
	// ExecTimeout bounds one program run, sandbox creation excluded.
	ExecTimeout time.Duration `yaml:"exec_timeout" default:"30s"`
}

// Client runs generated programs in a fresh remote sandbox per execution.
type Client struct {
	base        *gateway.Base
	language    string
	execTimeout time.Duration
	log         *logger.Logger
}

var _ service.SandboxExecutor = (*Client)(nil)

// Option configures Client.
type Option func(*Client)

// WithLogger sets the logger used for cleanup failures.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a sandbox client.
func New(cfg Config, opts ...Option) *Client {
	execTimeout := cfg.ExecTimeout
	if execTimeout <= 0 {
		execTimeout = 30 * time.Second
	}
	c := &Client{
		base: gateway.NewBase(gateway.Config{
			Name:    "sandbox",
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
			Headers: map[string]string{"Authorization": "Bearer " + cfg.APIKey},
		}),
		language:    orDefault(cfg.Language, "python"),
		execTimeout: execTimeout,
		log:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createRequest struct {
	Language string            `json:"language"`
	Labels   map[string]string `json:"labels,omitempty"`
}

type createResponse struct {
	ID string `json:"id"`
}

type executeRequest struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout"`
}

type executeResponse struct {
	ExitCode int    `json:"exitCode"`
	Result   string `json:"result"`
}

// Execute wraps code with the context preamble and result trailer, runs it in
// a new sandbox and removes the sandbox afterwards. A run that outlives the
// execution timeout is reported as models.ErrSandboxTimeout.
func (c *Client) Execute(ctx context.Context, code string, input any) (*service.ExecutionOutput, error) {
	program, err := Wrap(code, input)
	if err != nil {
		return nil, err
	}

	var created createResponse
	if err := c.base.PostJSON(ctx, "create", "/sandbox", createRequest{
		Language: c.language,
		Labels:   map[string]string{"app": "rewind"},
	}, &created); err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, fmt.Errorf("sandbox create: %w: empty sandbox id", models.ErrServiceUnavailable)
	}
	defer c.remove(ctx, created.ID)

	runCtx, cancel := context.WithTimeout(ctx, c.execTimeout)
	defer cancel()

	start := time.Now()
	var out executeResponse
	err = c.base.PostJSON(runCtx, "code_run", "/toolbox/"+created.ID+"/toolbox/process/execute", executeRequest{
		Command: runCommand(program),
		Timeout: int(c.execTimeout.Seconds()),
	}, &out)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() == nil && (errors.Is(runCtx.Err(), context.DeadlineExceeded) || elapsed >= c.execTimeout) {
			return nil, fmt.Errorf("sandbox code_run after %s: %w", elapsed.Round(time.Millisecond), models.ErrSandboxTimeout)
		}
		return nil, err
	}
	return &service.ExecutionOutput{Stdout: out.Result, ExitCode: out.ExitCode, Duration: elapsed}, nil
}

// remove deletes the sandbox best-effort, even if ctx is already cancelled.
func (c *Client) remove(ctx context.Context, id string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.base.Delete(cctx, "delete", "/sandbox/"+id); err != nil {
		c.log.Warn("sandbox cleanup failed", logger.String("sandbox_id", id), logger.Error(err))
	}
}

const trailer = `

if 'result' not in globals():
    raise ValueError("Code must assign a 'result' variable with the decision")
print(json.dumps(result, default=str))
`

// Wrap prepends a preamble that decodes input into a `context` variable and
// appends a trailer that requires `result` and prints it as JSON.
func Wrap(code string, input any) (string, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("sandbox: %w: encode context: %w", models.ErrValidationFailure, err)
	}
	var b strings.Builder
	b.WriteString("import base64\nimport json\n")
	b.WriteString(`context = json.loads(base64.b64decode("`)
	b.WriteString(base64.StdEncoding.EncodeToString(raw))
	b.WriteString(`").decode("utf-8"))`)
	b.WriteString("\n\n")
	b.WriteString(code)
	b.WriteString(trailer)
	return b.String(), nil
}

func runCommand(program string) string {
	return fmt.Sprintf("sh -c 'echo %s | base64 -d | python3 -'", base64.StdEncoding.EncodeToString([]byte(program)))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
