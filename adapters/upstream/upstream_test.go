package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/layer-3/clearway/adapters/httpclient"
	"github.com/layer-3/clearway/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, status int, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestProbe(t *testing.T) {
	hc, err := httpclient.New(httpclient.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)

	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"forbidden", http.StatusForbidden, "", true},
		{"challenge markup", http.StatusOK, `<script src="/cdn-cgi/challenge-platform/x.js">`, true},
		{"clean page", http.StatusOK, `<html>hello</html>`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProber(hc, serve(t, tt.status, tt.body), 0)
			challenged, err := p.Probe(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, challenged)
		})
	}
}

func TestProbeTransportError(t *testing.T) {
	hc, err := httpclient.New(httpclient.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	challenged, err := NewProber(hc, url, 0).Probe(context.Background())
	assert.True(t, challenged)
	assert.ErrorIs(t, err, core.ErrProbeFailed)
}

func TestOpenStreamsUnits(t *testing.T) {
	cookies := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookies <- r.Header.Get("Cookie")
		_, _ = w.Write([]byte("{\"a\":1}\n\n{\"b\":2}\n"))
	}))
	defer srv.Close()

	hc, err := httpclient.New(httpclient.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	c := NewClient(hc, srv.URL)

	src, err := c.Open(context.Background(), "sso-rw=a;sso=a; cf_clearance=x", []byte(`{}`))
	require.NoError(t, err)
	defer src.Close()

	first, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(first))

	second, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":2}`, string(second))

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "sso-rw=a;sso=a; cf_clearance=x", <-cookies)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
}

func TestOpenReturnsDenial(t *testing.T) {
	hc, err := httpclient.New(httpclient.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)

	c := NewClient(hc, serve(t, http.StatusForbidden, `{"error":"User is blocked"}`))
	_, err = c.Open(context.Background(), "", []byte(`{}`))

	var denial *core.DenialError
	require.True(t, errors.As(err, &denial))
	assert.Equal(t, http.StatusForbidden, denial.StatusCode)
	assert.Equal(t, core.DenialTokenInvalid, denial.Kind)
}

func TestOpenNeverRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	hc, err := httpclient.New(httpclient.Options{RetryMax: 3, RetryWaitMin: time.Millisecond, RetryWaitMax: time.Millisecond, Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = NewClient(hc, srv.URL).Open(context.Background(), "", []byte(`{}`))

	var denial *core.DenialError
	require.True(t, errors.As(err, &denial))
	assert.Equal(t, http.StatusBadGateway, denial.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 3, hc.RetryMax, "the shared client keeps its retry budget")
}
