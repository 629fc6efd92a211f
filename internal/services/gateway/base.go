package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"Rewind/internal/domain/models"
	"Rewind/internal/service/metrics"
	xhttp "Rewind/pkg/http"

	"github.com/sony/gobreaker"
)

// Config describes one external HTTP service.
type Config struct {
	Name    string
	BaseURL string
	Timeout time.Duration
	Headers map[string]string

	// Breaker trips after FailureThreshold consecutive unavailable responses
	// and probes again after OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Base provides the shared JSON transport for gateway clients. It
// centralizes client construction, circuit breaking and error classification.
type Base struct {
	name    string
	baseURL string
	headers map[string]string
	client  *xhttp.Client
	breaker *gobreaker.CircuitBreaker
}

// NewBase builds an HTTP client with timeout, headers and breaker from cfg.
func NewBase(cfg Config) *Base {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	name := cfg.Name
	b := &Base{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		headers: cfg.Headers,
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
	}
	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(_ string, _ gobreaker.State, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(Classify(err), models.ErrServiceUnavailable)
		},
	})
	return b
}

// Name returns the service name used in errors and metrics.
func (b *Base) Name() string { return b.name }

// URL joins path onto the base URL.
func (b *Base) URL(path string) string {
	if path == "" || strings.HasPrefix(path, "/") {
		return b.baseURL + path
	}
	return b.baseURL + "/" + path
}

// GetJSON issues a GET with query params and decodes JSON into dest.
func (b *Base) GetJSON(ctx context.Context, op, path string, query map[string][]string, dest interface{}) error {
	return b.Do(ctx, op, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         b.URL(path),
		QueryParams: query,
	}, dest)
}

// PostJSON posts payload to path and decodes JSON into dest.
func (b *Base) PostJSON(ctx context.Context, op, path string, payload, dest interface{}) error {
	return b.Do(ctx, op, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     b.URL(path),
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    payload,
	}, dest)
}

// Delete issues a DELETE and discards the body.
func (b *Base) Delete(ctx context.Context, op, path string) error {
	return b.Do(ctx, op, &xhttp.RequestOptions{
		Method: xhttp.MethodDelete,
		URL:    b.URL(path),
	}, nil)
}

// Do sends opts through the breaker. Errors are classified onto the domain
// taxonomy and prefixed with the service and operation.
func (b *Base) Do(ctx context.Context, op string, opts *xhttp.RequestOptions, dest interface{}) error {
	if b.baseURL == "" {
		return fmt.Errorf("%s %s: %w: base url not configured", b.name, op, models.ErrServiceUnavailable)
	}
	opts.Headers = b.mergeHeaders(opts.Headers)

	start := time.Now()
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.client.SendAndParse(ctx, opts, dest)
	})
	class := ""
	if err != nil {
		err = Classify(err)
		class = errorClass(err)
	}
	metrics.ObserveCall(b.name, op, class, time.Since(start))
	if err != nil {
		return fmt.Errorf("%s %s: %w", b.name, op, err)
	}
	return nil
}

func (b *Base) mergeHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(b.headers)+len(h))
	for k, v := range b.headers {
		out[k] = v
	}
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Classify maps a transport error onto the domain taxonomy. Errors that are
// already classified, and context errors, are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, models.ErrServiceUnavailable),
		errors.Is(err, models.ErrValidationFailure),
		errors.Is(err, models.ErrSandboxTimeout):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded) && !isClientTimeout(err):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %w", models.ErrServiceUnavailable, err)
	}

	var se *xhttp.StatusError
	if errors.As(err, &se) {
		if se.Code == http.StatusTooManyRequests || se.Code >= 500 {
			return fmt.Errorf("%w: %w", models.ErrServiceUnavailable, err)
		}
		return fmt.Errorf("%w: %w", models.ErrValidationFailure, err)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", models.ErrValidationFailure, err)
	}
	return fmt.Errorf("%w: %w", models.ErrServiceUnavailable, err)
}

// isClientTimeout reports an http.Client timeout, which surfaces as a
// deadline error but is a property of the remote service.
func isClientTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout() && strings.Contains(err.Error(), "Client.Timeout")
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, models.ErrSandboxTimeout):
		return "timeout"
	case errors.Is(err, models.ErrServiceUnavailable):
		return "unavailable"
	case errors.Is(err, models.ErrValidationFailure):
		return "invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
