package polymarket

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Rewind/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, history string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("slug") {
		case "fed-cut":
			_, _ = w.Write([]byte(`[{"slug":"fed-cut","title":"Fed cuts in March?","endDate":"2024-03-20T00:00:00Z",
				"markets":[{"question":"Will the Fed cut?","clobTokenIds":"[\"111\", \"222\"]","outcomes":"[\"Yes\", \"No\"]"}]}]`))
		case "empty-markets":
			_, _ = w.Write([]byte(`[{"slug":"empty-markets","markets":[]}]`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	})
	mux.HandleFunc("/prices-history", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "111", r.URL.Query().Get("market"))
		assert.Equal(t, "1", r.URL.Query().Get("fidelity"))
		_, _ = w.Write([]byte(history))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) *Client {
	return New(Config{GammaURL: srv.URL, ClobURL: srv.URL, Timeout: time.Second})
}

func TestMetadataParsesEncodedTokenList(t *testing.T) {
	c := newTestClient(newTestServer(t, `{"history":[]}`))

	info, err := c.Metadata(context.Background(), "fed-cut")
	require.NoError(t, err)
	assert.Equal(t, "111", info.TokenID)
	assert.Equal(t, "Fed cuts in March?", info.Title)
	assert.Equal(t, "Will the Fed cut?", info.Question)
	assert.Equal(t, []string{"Yes", "No"}, info.Outcomes)
}

func TestMetadataMissingEvent(t *testing.T) {
	c := newTestClient(newTestServer(t, `{"history":[]}`))

	_, err := c.Metadata(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = c.Metadata(context.Background(), "empty-markets")
	assert.ErrorIs(t, err, models.ErrValidationFailure)
}

func TestStateAtNeverLooksAhead(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	history := fmt.Sprintf(`{"history":[{"t":%d,"p":0.41},{"t":%d,"p":0.44},{"t":%d,"p":0.90}]}`,
		at.Add(-30*time.Minute).Unix(), at.Unix(), at.Add(time.Minute).Unix())
	c := newTestClient(newTestServer(t, history))

	st, err := c.StateAt(context.Background(), "111", at)
	require.NoError(t, err)
	assert.InDelta(t, 0.44, st.Price, 1e-9)
	assert.False(t, st.Estimated)
	assert.False(t, st.Timestamp.After(at))
}

func TestStateAtEstimatesWithoutEarlierPoint(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	history := fmt.Sprintf(`{"history":[{"t":%d,"p":0.90}]}`, at.Add(time.Minute).Unix())
	c := newTestClient(newTestServer(t, history))

	st, err := c.StateAt(context.Background(), "111", at)
	require.NoError(t, err)
	assert.True(t, st.Estimated)
	assert.Equal(t, 0.5, st.Price)
	assert.Equal(t, at, st.Timestamp)
}

func TestStringList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, stringList([]byte(`["a","b"]`)))
	assert.Equal(t, []string{"a", "b"}, stringList([]byte(`"[\"a\",\"b\"]"`)))
	assert.Equal(t, []string{"x"}, stringList([]byte(`"x"`)))
	assert.Nil(t, stringList(nil))
}
