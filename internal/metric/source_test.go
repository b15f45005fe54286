package metric

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCount(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{name: "array length", body: `[{"id":1},{"id":2},{"id":3}]`, want: 3},
		{name: "empty array", body: `[]`, want: 0},
		{name: "totalCount", body: `{"offset":0,"limit":25,"count":25,"totalCount":45,"data":[]}`, want: 45},
		{name: "count", body: `{"count": 12}`, want: 12},
		{name: "data array", body: `{"data":[1,2]}`, want: 2},
		{name: "whitespace", body: "\n  [1]\n", want: 1},
		{name: "object without count", body: `{"clients":[]}`, wantErr: true},
		{name: "null data", body: `{"data":null}`, wantErr: true},
		{name: "negative", body: `{"totalCount":-1}`, wantErr: true},
		{name: "malformed", body: `[1,2`, wantErr: true},
		{name: "html", body: `<html>login</html>`, wantErr: true},
		{name: "empty", body: ``, wantErr: true},
		{name: "string count", body: `{"count":"12"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCount([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPSourceSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "secret-key", r.Header.Get("X-API-KEY"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`[{},{},{}]`))
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPSourceConfig{URL: srv.URL + "/clients", APIKey: "secret-key"})
	count, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestHTTPSourceSelfSignedTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"totalCount":31}`))
	}))
	defer srv.Close()

	insecure := NewHTTPSource(HTTPSourceConfig{URL: srv.URL, InsecureSkipVerify: true})
	count, err := insecure.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 31, count)

	strict := NewHTTPSource(HTTPSourceConfig{URL: srv.URL})
	_, err = strict.Fetch(context.Background())
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Zero(t, fetchErr.Status)
}

func TestHTTPSourceNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"count": 99}`))
	}))
	defer srv.Close()

	count, err := NewHTTPSource(HTTPSourceConfig{URL: srv.URL}).Fetch(context.Background())
	assert.Zero(t, count)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusUnauthorized, fetchErr.Status)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestHTTPSourceMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewHTTPSource(HTTPSourceConfig{URL: srv.URL}).Fetch(context.Background())
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusOK, fetchErr.Status)
}

func TestHTTPSourceTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	src := NewHTTPSource(HTTPSourceConfig{URL: srv.URL, Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := src.Fetch(context.Background())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPSourceHost(t *testing.T) {
	src := NewHTTPSource(HTTPSourceConfig{URL: "https://192.168.253.1/proxy/network/integration/v1/sites/x/clients"})
	assert.Equal(t, "192.168.253.1", src.Host())

	assert.Empty(t, NewHTTPSource(HTTPSourceConfig{URL: "://bad"}).Host())
}
