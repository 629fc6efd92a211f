package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsLabelsByRouteTemplate(t *testing.T) {
	e := echo.New()
	e.Use(Metrics(nil, 0))
	e.GET("/api/experiments/:id", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/api/experiments/:id", http.MethodGet, "204"))
	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/experiments/"+id, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/api/experiments/:id", http.MethodGet, "204"))
	assert.Equal(t, 2.0, after-before)
}

func TestMetricsRecordsHandlerErrors(t *testing.T) {
	e := echo.New()
	e.Use(Metrics(nil, 0))
	e.GET("/fail", func(c echo.Context) error { return echo.NewHTTPError(http.StatusBadGateway, "upstream") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/fail", http.MethodGet, "502")))
}

func TestRecoverReturnsInternalError(t *testing.T) {
	e := echo.New()
	e.Use(Recover(nil))
	e.GET("/panic", func(c echo.Context) error { panic("kaboom") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal Server Error")
}

func TestCORSPreflight(t *testing.T) {
	e := echo.New()
	e.Use(CORS(CORSConfig{AllowOrigins: []string{"*"}, AllowMethods: []string{http.MethodGet}}))
	e.OPTIONS("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://ui.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ui.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.MethodGet, rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestCORSAllowList(t *testing.T) {
	e := echo.New()
	e.Use(CORS(CORSConfig{
		AllowOrigins:  []string{"https://ui.example"},
		ExposeHeaders: []string{"X-Request-Id"},
		MaxAge:        10 * time.Minute,
	}))
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.OPTIONS("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	call := func(method, origin string, preflight bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/x", nil)
		req.Header.Set("Origin", origin)
		if preflight {
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	rec := call(http.MethodGet, "https://ui.example", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://ui.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Request-Id", rec.Header().Get("Access-Control-Expose-Headers"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	rec = call(http.MethodGet, "https://evil.example", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = call(http.MethodOptions, "https://ui.example", true)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))

	// a plain OPTIONS without a request method is not a preflight
	rec = call(http.MethodOptions, "https://ui.example", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}
