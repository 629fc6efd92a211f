package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"Rewind/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseGetJSONSendsHeadersAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items", r.URL.Path)
		assert.Equal(t, "abc", r.URL.Query().Get("slug"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"name":"ok"}`))
	}))
	defer srv.Close()

	b := NewBase(Config{Name: "test", BaseURL: srv.URL + "/", Headers: map[string]string{"Authorization": "Bearer k"}})
	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, b.GetJSON(context.Background(), "items", "items", map[string][]string{"slug": {"abc"}}, &out))
	assert.Equal(t, "ok", out.Name)
}

func TestBaseClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{http.StatusTooManyRequests, models.ErrServiceUnavailable},
		{http.StatusBadGateway, models.ErrServiceUnavailable},
		{http.StatusBadRequest, models.ErrValidationFailure},
		{http.StatusNotFound, models.ErrValidationFailure},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
			}))
			defer srv.Close()

			b := NewBase(Config{Name: "test", BaseURL: srv.URL})
			err := b.PostJSON(context.Background(), "op", "/x", map[string]string{"a": "b"}, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestBaseUndecodableBodyIsValidationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":`))
	}))
	defer srv.Close()

	b := NewBase(Config{Name: "test", BaseURL: srv.URL})
	var out map[string]any
	err := b.GetJSON(context.Background(), "op", "/", nil, &out)
	assert.ErrorIs(t, err, models.ErrValidationFailure)
}

func TestBaseBreakerOpensOnUnavailableOnly(t *testing.T) {
	var hits atomic.Int32
	var code atomic.Int32
	code.Store(http.StatusBadRequest)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(int(code.Load()))
	}))
	defer srv.Close()

	b := NewBase(Config{Name: "test", BaseURL: srv.URL, FailureThreshold: 2, OpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.GetJSON(ctx, "op", "/", nil, nil), models.ErrValidationFailure)
	}
	assert.Equal(t, int32(3), hits.Load())

	code.Store(http.StatusServiceUnavailable)
	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.GetJSON(ctx, "op", "/", nil, nil), models.ErrServiceUnavailable)
	}
	err := b.GetJSON(ctx, "op", "/", nil, nil)
	assert.ErrorIs(t, err, models.ErrServiceUnavailable)
	assert.Equal(t, int32(5), hits.Load(), "open breaker must not reach the server")
}

func TestBaseUnreachableAndUnconfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewBase(Config{Name: "test", BaseURL: url}).GetJSON(context.Background(), "op", "/", nil, nil)
	assert.ErrorIs(t, err, models.ErrServiceUnavailable)

	err = NewBase(Config{Name: "test"}).GetJSON(context.Background(), "op", "/", nil, nil)
	assert.ErrorIs(t, err, models.ErrServiceUnavailable)
}

func TestClassifyKeepsContextErrors(t *testing.T) {
	assert.True(t, errors.Is(Classify(context.Canceled), context.Canceled))
	assert.False(t, errors.Is(Classify(context.Canceled), models.ErrServiceUnavailable))
	assert.Nil(t, Classify(nil))

	already := models.ErrSandboxTimeout
	assert.Same(t, already, Classify(already))
}
