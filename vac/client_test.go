package vac

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := &Client{
		config: &Config{
			APIKey:       "ak_test",
			APISecretKey: "secret",
			APIURL:       srv.URL,
			dir:          t.TempDir(),
		},
		httpClient: srv.Client(),
		log:        zap.NewNop(),
	}
	return c, srv
}

func TestAskDecodesResponse(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/job", r.URL.Path)
		assert.Equal(t, "done", r.URL.Query().Get("status"))

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "ak_test", user)
		assert.Equal(t, "secret", pass)

		w.Write([]byte(`{"jobs":[{"jid":42,"status":"done"}]}`))
	}))

	var resp struct {
		Jobs []*Job `json:"jobs"`
	}
	err := c.ask(context.Background(), &askRequest{
		method: http.MethodGet,
		path:   "/job",
		params: url.Values{"status": {"done"}},
	}, &resp)
	require.NoError(t, err)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, int64(42), resp.Jobs[0].JID)
	assert.Equal(t, "done", resp.Jobs[0].Status)
}

func TestAskErrorEnvelope(t *testing.T) {
	var requests int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"not_found","message":"no such volume","hint":"check the name","retry":false}}`))
	}))

	err := c.ask(context.Background(), &askRequest{method: http.MethodGet, path: "/volume"}, nil)
	var re *RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.HTTPStatusCode)
	assert.Equal(t, "not_found", re.Code)
	assert.Equal(t, "no such volume", re.Message)
	assert.Equal(t, "check the name", re.Hint)
	assert.False(t, re.Retry)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests), "non-retryable errors must not be resubmitted")
}

func TestAskRetriesRetryableAnswer(t *testing.T) {
	var requests int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"code":"unavailable","message":"try again","retry":true}}`))
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))

	err := c.ask(context.Background(), &askRequest{method: http.MethodPost, path: "/job/kill"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestAskWithoutCredentials(t *testing.T) {
	var requests int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
	}))
	c.config.APIKey = ""

	err := c.ask(context.Background(), &askRequest{method: http.MethodGet, path: "/job"}, nil)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int32(0), atomic.LoadInt32(&requests), "requests without a key must fail before hitting the wire")
}

func TestAskOnceRetryableProxyAnswer(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
	}))

	auth := &basicAuth{username: "ak_test", password: "secret"}
	err := c.askOnce(context.Background(), &askRequest{method: http.MethodGet, path: "/job"}, auth, "", nil, nil)
	var re *RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusBadGateway, re.HTTPStatusCode)
	assert.True(t, re.Retry)
}

func TestAskOnceUnparseableAnswer(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))

	auth := &basicAuth{username: "ak_test", password: "secret"}
	err := c.askOnce(context.Background(), &askRequest{method: http.MethodGet, path: "/job"}, auth, "", nil, nil)
	var re *RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusOK, re.HTTPStatusCode)
	assert.Contains(t, re.Message, "could not parse body")
	assert.False(t, re.Retry)
}

func TestEncodeBodyJSON(t *testing.T) {
	contentType, body, err := encodeBody(&askRequest{json: map[string]int{"n": 1}})
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	assert.JSONEq(t, `{"n":1}`, string(body))
}

func TestEncodeBodyForm(t *testing.T) {
	contentType, body, err := encodeBody(&askRequest{form: url.Values{"jid": {"1", "2"}}})
	require.NoError(t, err)
	assert.Equal(t, "application/x-www-form-urlencoded", contentType)

	parsed, err := url.ParseQuery(string(body))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, parsed["jid"])
}

func TestEncodeBodyMultipart(t *testing.T) {
	contentType, body, err := encodeBody(&askRequest{
		form:  url.Values{"file_mode": {"0755"}},
		files: []upload{{target: "sub/dir/tool.sh", contents: []byte("#!/bin/sh\n")}},
	})
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mediaType)

	reader := multipart.NewReader(strings.NewReader(string(body)), params["boundary"])
	form, err := reader.ReadForm(1 << 20)
	require.NoError(t, err)
	defer form.RemoveAll()

	assert.Equal(t, []string{"0755"}, form.Value["file_mode"])
	require.Len(t, form.File["file"], 1)
	part := form.File["file"][0]
	assert.Equal(t, "sub/dir/tool.sh", part.Filename)

	f, err := part.Open()
	require.NoError(t, err)
	defer f.Close()
	contents, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(contents))
}

func TestElide(t *testing.T) {
	assert.Equal(t, "short", elide("short"))

	long := strings.Repeat("x", maxLogElement+1)
	assert.Equal(t, "Too large to log: 151 bytes", elide(long))
}

func TestRequestErrorMessage(t *testing.T) {
	err := &RequestError{Code: "busy", Message: "queue is full", Hint: "wait"}
	assert.Equal(t, "queue is full (Code: busy Hint: wait)", err.Error())
}

func TestJobErrorMessage(t *testing.T) {
	withStderr := &JobError{JID: 3, Status: "error", Stderr: "boom"}
	assert.Equal(t, "job 3 ended error: boom", withStderr.Error())

	killed := &JobError{JID: 4, Status: "killed"}
	assert.Equal(t, "job 4 ended killed", killed.Error())
}

func TestSyncErrorUnwraps(t *testing.T) {
	inner := &RequestError{Message: "denied"}
	err := &SyncError{Path: "data/a.txt", Err: inner}
	var re *RequestError
	assert.ErrorAs(t, err, &re)
	assert.Contains(t, err.Error(), "data/a.txt")
}

func TestWithOptions(t *testing.T) {
	hc := &http.Client{}
	cfg := &Config{APIURL: "http://127.0.0.1:1", dir: t.TempDir()}
	c := &Client{config: &Config{}}
	for _, opt := range []ClientOption{
		WithConfig(cfg),
		WithHTTPClient(hc),
		WithCredentials("ak_opt", "s3cret"),
		WithAPIURL("http://127.0.0.1:2"),
		WithLogger(zap.NewNop()),
	} {
		opt(c)
	}
	assert.Same(t, hc, c.httpClient)
	assert.Same(t, cfg, c.config)
	assert.Equal(t, "ak_opt", c.config.APIKey)
	assert.Equal(t, "s3cret", c.config.APISecretKey)
	assert.Equal(t, "http://127.0.0.1:2", c.config.APIURL)
}

func TestElideValuesSortsKeys(t *testing.T) {
	vals := url.Values{"b": {"2"}, "a": {"1"}}
	assert.Equal(t, []string{"a=1", "b=2"}, elideValues(vals))
}

// jsonBody decodes a request body for handler-side assertions.
func jsonBody(t *testing.T, r *http.Request, out interface{}) {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}
