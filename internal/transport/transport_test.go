package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gradewatch/internal/policy/ratelimit"
)

func TestNewDoesNotFollowRedirects(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/next", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(Config{Timeout: time.Second, Limiter: ratelimit.New(ratelimit.Config{})})
	resp, err := client.Get(srv.URL + "/start")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/next", resp.Header.Get("Location"))
}

func TestNewDefaultsTimeout(t *testing.T) {
	t.Parallel()

	client := New(Config{})
	require.Equal(t, 30*time.Second, client.Timeout)
	_, isLimited := client.Transport.(*ratelimit.Transport)
	require.False(t, isLimited)
}
