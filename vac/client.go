package vac

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultMaxAttempts = 5

// Client talks to the Multyvac API. The zero value is not usable; build
// one with NewClient. A Client is safe for concurrent use.
type Client struct {
	config     *Config
	httpClient *http.Client
	log        *zap.Logger
}

// ClientOption adjusts a Client under construction.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger replaces the file logger.
func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// WithCredentials overrides the configured key pair.
func WithCredentials(apiKey, apiSecretKey string) ClientOption {
	return func(c *Client) {
		c.config.APIKey = apiKey
		c.config.APISecretKey = apiSecretKey
	}
}

// WithAPIURL overrides the configured endpoint.
func WithAPIURL(u string) ClientOption {
	return func(c *Client) {
		c.config.APIURL = u
	}
}

// WithConfig replaces the loaded configuration outright.
func WithConfig(cfg *Config) ClientOption {
	return func(c *Client) {
		c.config = cfg
	}
}

// NewClient builds a client from the on-disk configuration and the
// MULTYVAC_* environment, then applies opts. Missing credentials do not
// fail construction; requests fail with a ConfigError until a key is
// set.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	c := &Client{config: cfg, httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = newFileLogger(c.config.Dir())
	}
	return c, nil
}

// Config returns the live client configuration. Mutating it affects the
// running client; Save persists it for future ones.
func (c *Client) Config() *Config {
	return c.config
}

type basicAuth struct {
	username string
	password string
}

// upload is one file carried in a multipart request. The target path is
// sent as the part filename, which the service resolves inside the
// volume or layer tree.
type upload struct {
	target   string
	contents []byte
}

// askRequest is one API call before encoding. At most one of json,
// files or form describes the body; files may be combined with form
// fields in the same multipart payload.
type askRequest struct {
	method string
	path   string
	auth   *basicAuth
	params url.Values
	form   url.Values
	json   interface{}
	files  []upload
}

// ask performs req with retries and decodes the response into out when
// out is non-nil. Transport failures and answers marked retryable are
// resubmitted with jittered exponential backoff, up to five attempts.
// A rate-limited answer earns one extra attempt and a five second
// floor on the next delay.
func (c *Client) ask(ctx context.Context, req *askRequest, out interface{}) error {
	auth := req.auth
	if auth == nil {
		key, secret, err := c.config.Auth()
		if err != nil {
			return err
		}
		auth = &basicAuth{username: key, password: secret}
	}

	contentType, body, err := encodeBody(req)
	if err != nil {
		return err
	}
	c.logRequest(req, contentType, body)

	attempt := 0
	maxAttempts := defaultMaxAttempts
	for {
		err := c.askOnce(ctx, req, auth, contentType, body, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}

		attempt++
		minDelay := time.Second
		var re *RequestError
		if errors.As(err, &re) {
			if re.HTTPStatusCode == http.StatusTooManyRequests {
				maxAttempts++
				minDelay = 5 * time.Second
			}
			if !re.Retry {
				return err
			}
		}
		if attempt >= maxAttempts {
			return err
		}

		delay := time.Duration(float64(uint(1)<<attempt) * rand.Float64() * float64(time.Second))
		if delay < minDelay {
			delay = minDelay
		}
		c.log.Warn("request failed, retrying",
			zap.String("method", req.method),
			zap.String("uri", req.path),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func encodeBody(req *askRequest) (contentType string, body []byte, err error) {
	switch {
	case req.json != nil:
		body, err = json.Marshal(req.json)
		if err != nil {
			return "", nil, err
		}
		return "application/json", body, nil

	case len(req.files) > 0:
		buf := &bytes.Buffer{}
		w := multipart.NewWriter(buf)
		for k, vs := range req.form {
			for _, v := range vs {
				if err := w.WriteField(k, v); err != nil {
					return "", nil, err
				}
			}
		}
		for _, f := range req.files {
			part, err := w.CreateFormFile("file", f.target)
			if err != nil {
				return "", nil, err
			}
			if _, err := part.Write(f.contents); err != nil {
				return "", nil, err
			}
		}
		if err := w.Close(); err != nil {
			return "", nil, err
		}
		return w.FormDataContentType(), buf.Bytes(), nil

	case len(req.form) > 0:
		return "application/x-www-form-urlencoded", []byte(req.form.Encode()), nil
	}
	return "", nil, nil
}

func (c *Client) askOnce(ctx context.Context, req *askRequest, auth *basicAuth, contentType string, body []byte, out interface{}) error {
	u := strings.TrimRight(c.config.APIURL, "/") + req.path
	if len(req.params) > 0 {
		u += "?" + req.params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, reader)
	if err != nil {
		return err
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.SetBasicAuth(auth.username, auth.password)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var envelope struct {
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Hint    string `json:"hint"`
			Retry   bool   `json:"retry"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		if resp.StatusCode >= http.StatusInternalServerError {
			// Proxies answer with HTML; those are worth retrying.
			return &RequestError{HTTPStatusCode: resp.StatusCode, Message: string(data), Retry: true}
		}
		return &RequestError{HTTPStatusCode: resp.StatusCode, Message: "could not parse body", Hint: string(data)}
	}
	if envelope.Error != nil {
		return &RequestError{
			HTTPStatusCode: resp.StatusCode,
			Code:           envelope.Error.Code,
			Message:        envelope.Error.Message,
			Hint:           envelope.Error.Hint,
			Retry:          envelope.Error.Retry,
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &RequestError{HTTPStatusCode: resp.StatusCode, Message: "could not parse body", Hint: string(data)}
		}
	}
	return nil
}

func (c *Client) logRequest(req *askRequest, contentType string, body []byte) {
	fields := []zap.Field{
		zap.String("method", req.method),
		zap.String("uri", req.path),
	}
	if len(req.params) > 0 {
		fields = append(fields, zap.Strings("params", elideValues(req.params)))
	}
	if len(req.form) > 0 {
		fields = append(fields, zap.Strings("data", elideValues(req.form)))
	}
	if contentType == "application/json" {
		fields = append(fields, zap.String("json", elide(string(body))))
	}
	if len(req.files) > 0 {
		targets := make([]string, len(req.files))
		for i, f := range req.files {
			targets[i] = f.target
		}
		fields = append(fields, zap.Strings("files", targets))
	}
	c.log.Info("request", fields...)
}
