package delivery

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/dmitrijs2005/burrow/internal/common"
	"github.com/dmitrijs2005/burrow/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hostPort(t *testing.T, srv *httptest.Server) (string, int) {
	t.Helper()
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p
}

func TestHTTPTransport_PostsMessage(t *testing.T) {
	var got models.Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/message", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	host, port := hostPort(t, srv)
	tr := NewHTTPTransport(nil, port, time.Second)

	require.NoError(t, tr.Send(context.Background(), host, message("m1")))
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "hi", got.Content)
}

func TestHTTPTransport_Non2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	host, port := hostPort(t, srv)
	err := NewHTTPTransport(nil, port, time.Second).Send(context.Background(), host, message("m1"))
	assert.ErrorIs(t, err, common.ErrorTransportFailure)
}

func TestHTTPTransport_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	host, port := hostPort(t, srv)
	start := time.Now()
	err := NewHTTPTransport(nil, port, 50*time.Millisecond).Send(context.Background(), host, message("m1"))
	assert.ErrorIs(t, err, common.ErrorTransportFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPTransport_URL(t *testing.T) {
	tr := NewHTTPTransport(nil, 80, time.Second)
	assert.Equal(t, "http://abc.onion:80/message", tr.URL("abc.onion"))
}
