package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/onboarding/coreengine/testutil"
)

type received struct {
	method      string
	contentType string
	token       string
	body        map[string]any
}

func newRecorder(t *testing.T, status int) (*httptest.Server, func() []received) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []received
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		mu.Lock()
		reqs = append(reqs, received{
			method:      r.Method,
			contentType: r.Header.Get("Content-Type"),
			token:       r.Header.Get("X-Webhook-Token"),
			body:        body,
		})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(" workflow says no \n"))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []received {
		mu.Lock()
		defer mu.Unlock()
		return append([]received(nil), reqs...)
	}
}

func TestSubmitPostsJSON(t *testing.T) {
	srv, got := newRecorder(t, http.StatusAccepted)
	logger := testutil.NewMockLogger()
	c := New(srv.URL, WithLogger(logger), WithHeader("X-Webhook-Token", "s3cret"))

	err := c.Submit(context.Background(), map[string]any{"user_id": "u1", "review_link": nil})
	require.NoError(t, err)

	reqs := got()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].method)
	assert.Equal(t, "application/json", reqs[0].contentType)
	assert.Equal(t, "s3cret", reqs[0].token)
	assert.Equal(t, "u1", reqs[0].body["user_id"])
	assert.Contains(t, reqs[0].body, "review_link")
	assert.Nil(t, reqs[0].body["review_link"])
	assert.True(t, logger.Has("webhook_delivered"))
}

func TestSubmitNon2xx(t *testing.T) {
	srv, got := newRecorder(t, http.StatusBadGateway)
	c := New(srv.URL)

	err := c.Submit(context.Background(), map[string]string{"a": "b"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Equal(t, "workflow says no", se.Body)
	assert.Len(t, got(), 1, "no retry")
}

func TestSubmitTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, WithTimeout(20*time.Millisecond))
	err := c.Submit(context.Background(), map[string]string{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSubmitWithoutURL(t *testing.T) {
	assert.ErrorIs(t, New("").Submit(context.Background(), struct{}{}), ErrNoURL)
}

func TestSubmitUnmarshalablePayload(t *testing.T) {
	srv, got := newRecorder(t, http.StatusOK)
	err := New(srv.URL).Submit(context.Background(), map[string]any{"ch": make(chan int)})
	require.Error(t, err)
	assert.Empty(t, got())
}

func TestOptions(t *testing.T) {
	hc := &http.Client{}
	c := New("http://example.invalid/hook", WithHTTPClient(hc), WithTimeout(0))
	assert.Same(t, hc, c.http)
	assert.Equal(t, DefaultTimeout, c.timeout, "non-positive timeout keeps default")
	assert.Equal(t, "http://example.invalid/hook", c.URL())
}
