package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h echo.HandlerFunc) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, h(c))
	var body APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestDataResponseWritesStatus(t *testing.T) {
	rec, body := serve(t, func(c echo.Context) error { return AcceptedResponse(c, map[string]string{"id": "x"}) })
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, http.StatusAccepted, body.Status)
	assert.Equal(t, "Accepted", body.Message)
}

func TestAppErrorResponse(t *testing.T) {
	rec, body := serve(t, func(c echo.Context) error {
		return AppErrorResponse(c, NotReadyError("still running").WithError(errors.New("boom")))
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, http.StatusConflict, body.Status)

	rec, _ = serve(t, func(c echo.Context) error { return AppErrorResponse(c, errors.New("plain")) })
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestReadAndValidateRequestAppliesDefaults(t *testing.T) {
	type req struct {
		Limit int    `query:"limit" default:"25" validate:"gte=1,lte=100"`
		Name  string `query:"name" validate:"required"`
	}
	e := echo.New()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?name=a", nil), httptest.NewRecorder())
	r := &req{}
	assert.Nil(t, ReadAndValidateRequest(c, r))
	assert.Equal(t, 25, r.Limit)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?limit=500", nil), httptest.NewRecorder())
	verr := ReadAndValidateRequest(c, &req{})
	errs, ok := verr.([]ValidationError)
	require.True(t, ok)
	codes := map[string]bool{}
	for _, e := range errs {
		codes[e.Code] = true
	}
	assert.True(t, codes["ERR_LTE"])
	assert.True(t, codes["ERR_REQUIRED"])
}

func TestReadAndValidateRequestReportsWireFieldNames(t *testing.T) {
	type req struct {
		Slug   string   `json:"market_slug" validate:"required"`
		Models []string `json:"models" validate:"max=1,dive,required"`
		Mode   string   `json:"mode" validate:"omitempty,oneof=agentic direct"`
	}
	e := echo.New()
	httpReq := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"models":["a",""],"mode":"magic"}`))
	httpReq.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(httpReq, httptest.NewRecorder())

	errs, ok := ReadAndValidateRequest(c, &req{}).([]ValidationError)
	require.True(t, ok)
	byField := map[string]ValidationError{}
	for _, ve := range errs {
		byField[ve.Field] = ve
	}
	require.Contains(t, byField, "market_slug")
	assert.Equal(t, "market_slug is required", byField["market_slug"].Message)
	require.Contains(t, byField, "models")
	assert.Equal(t, "models must be at most 1 items", byField["models"].Message)
	require.Contains(t, byField, "mode")
	assert.Equal(t, []string{"agentic", "direct"}, byField["mode"].Params["options"])

	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`)), httptest.NewRecorder())
	c.Request().Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	errs, ok = ReadAndValidateRequest(c, &req{}).([]ValidationError)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_BAD_REQUEST", errs[0].Code)
}
