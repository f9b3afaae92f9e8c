package usage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*httptest.Server, *Counter) {
	t.Helper()
	counter := NewCounter()
	r := chi.NewRouter()
	Routes(r, counter, zerolog.Nop())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, counter
}

func TestTrackerRoundTrip(t *testing.T) {
	srv, counter := newServer(t)

	tracker, err := NewHTTPTracker(srv.URL+"/", time.Second)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, tracker.Track(ctx, "pdf-compress", "en"))
	require.NoError(t, tracker.Track(ctx, "pdf-compress", "en"))
	require.NoError(t, tracker.Track(ctx, "image-convert", "de"))

	assert.Equal(t, []Count{
		{ToolID: "image-convert", Locale: "de", Count: 1},
		{ToolID: "pdf-compress", Locale: "en", Count: 2},
	}, counter.Counts())

	resp, err := http.Get(srv.URL + Path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var rows []Count
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	assert.Len(t, rows, 2)
}

func TestTrackerSendsCookies(t *testing.T) {
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err == nil {
			gotCookie = c.Value
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tracker, err := NewHTTPTracker(srv.URL, time.Second)
	require.NoError(t, err)
	require.NoError(t, tracker.Track(context.Background(), "a", "en"))
	require.NoError(t, tracker.Track(context.Background(), "a", "en"))
	assert.Equal(t, "abc", gotCookie)
}

func TestTrackerReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tracker, err := NewHTTPTracker(srv.URL, time.Second)
	require.NoError(t, err)
	assert.Error(t, tracker.Track(context.Background(), "a", "en"))
}

func TestHandlerRejectsBadPayload(t *testing.T) {
	srv, counter := newServer(t)

	resp, err := http.Post(srv.URL+Path, "application/json", strings.NewReader(`{"locale":"en"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+Path, "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Empty(t, counter.Counts())
}

func TestNewHTTPTrackerRequiresEndpoint(t *testing.T) {
	_, err := NewHTTPTracker("", time.Second)
	assert.Error(t, err)
	assert.NoError(t, Nop{}.Track(context.Background(), "x", "y"))
}

func TestCounterTracksLocally(t *testing.T) {
	counter := NewCounter()
	require.NoError(t, counter.Track(context.Background(), "pdf-split", "en"))
	assert.Equal(t, []Count{{ToolID: "pdf-split", Locale: "en", Count: 1}}, counter.Counts())
}
