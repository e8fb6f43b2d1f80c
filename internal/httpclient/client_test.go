package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/bfhtw/errors"
)

func fastClient() *Client {
	return New(Options{
		RequestsPerSecond: 1000,
		BaseBackoff:       time.Millisecond,
		MaxRetries:        2,
		AllowPrivateHosts: true,
	})
}

func TestValidateURL(t *testing.T) {
	c := New(Options{})

	tests := []struct {
		name      string
		url       string
		shouldErr bool
	}{
		{"https", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esearch.fcgi", false},
		{"http", "http://export.arxiv.org/api/query", false},
		{"file scheme", "file:///etc/passwd", true},
		{"missing host", "https:///path", true},
		{"localhost", "http://localhost:8080/", true},
		{"loopback ip", "http://127.0.0.1:9000/", true},
		{"ipv6 loopback", "http://[::1]/", true},
		{"rfc1918", "http://10.0.0.7/latest/meta-data", true},
		{"link local", "http://169.254.169.254/latest/meta-data", true},
		{"credentials", "http://ncbi.nlm.nih.gov@localhost/", true},
		{"public ip", "http://8.8.8.8/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ValidateURL(tt.url)
			if tt.shouldErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalidRequestError(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestGetAppliesParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pubmed", r.URL.Query().Get("db"))
		assert.Equal(t, "json", r.URL.Query().Get("retmode"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	err := fastClient().GetJSON(context.Background(), srv.URL, url.Values{"db": {"pubmed"}, "retmode": {"json"}}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("done"))
	}))
	defer srv.Close()

	body, err := fastClient().Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", string(body))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := fastClient().Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConnection))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestGetUnreachableIsConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	err := fastClient().Ping(context.Background(), addr, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConnection))
}

func TestGetJSONDecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	var out map[string]interface{}
	err := fastClient().GetJSON(context.Background(), srv.URL, nil, &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProcessing))
}

func TestDefaultClientRefusesLoopbackServer(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	_, err := New(Options{RequestsPerSecond: 1000}).Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestGuardedDialBlocksPrivateResolution(t *testing.T) {
	dial := guardedDial(&net.Dialer{Timeout: time.Second})
	_, err := dial(context.Background(), "tcp", "localhost:80")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private IP address blocked")
}

func TestRedirectLimit(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/again", http.StatusFound)
	}))
	defer srv.Close()

	c := New(Options{RequestsPerSecond: 1000, MaxRetries: -1, MaxRedirects: 2, AllowPrivateHosts: true})
	_, err := c.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped after 2 redirects")
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"10.1.2.3", true},
		{"172.20.0.1", true},
		{"192.168.1.1", true},
		{"127.0.0.1", true},
		{"169.254.169.254", true},
		{"0.0.0.0", true},
		{"::1", true},
		{"fe80::1", true},
		{"fd00::1", true},
		{"::ffff:10.0.0.1", true},
		{"130.14.29.110", false},
		{"2607:f220:41e:4290::110", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.private, isPrivateIP(net.ParseIP(tt.ip)))
		})
	}
}
