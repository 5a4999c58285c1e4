package vac

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ApiKey is an API credential pair. SecretKey is only ever returned to
// its owner.
type ApiKey struct {
	ID        string     `json:"id"`
	SecretKey string     `json:"secret_key"`
	Active    bool       `json:"active"`
	CreatedAt *time.Time `json:"created,omitempty"`

	client *Client
}

// WebCredentials authenticate key operations with a dashboard account
// instead of an api key, which is how setup fetches the first key.
type WebCredentials struct {
	Username string
	Password string
}

func (w *WebCredentials) auth() *basicAuth {
	if w == nil {
		return nil
	}
	return &basicAuth{username: "web-" + w.Username, password: w.Password}
}

// Keys lists the account's api keys. creds may be nil to use the
// configured key.
func (c *Client) Keys(ctx context.Context, creds *WebCredentials) ([]*ApiKey, error) {
	var resp struct {
		Keys []*ApiKey `json:"keys"`
	}
	err := c.ask(ctx, &askRequest{
		method: http.MethodGet,
		path:   "/key",
		auth:   creds.auth(),
	}, &resp)
	if err != nil {
		return nil, err
	}
	for _, k := range resp.Keys {
		k.client = c
	}
	return resp.Keys, nil
}

// Key returns the api key with the given id.
func (c *Client) Key(ctx context.Context, id string, creds *WebCredentials) (*ApiKey, error) {
	var resp struct {
		Keys []*ApiKey `json:"keys"`
	}
	err := c.ask(ctx, &askRequest{
		method: http.MethodGet,
		path:   "/key",
		auth:   creds.auth(),
		params: url.Values{"id": {id}},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Keys) == 0 {
		return nil, fmt.Errorf("could not find api key %s", id)
	}
	resp.Keys[0].client = c
	return resp.Keys[0], nil
}

// CreateKey mints a new active api key for the account.
func (c *Client) CreateKey(ctx context.Context) (*ApiKey, error) {
	var resp struct {
		Key *ApiKey `json:"key"`
	}
	if err := c.ask(ctx, &askRequest{method: http.MethodPost, path: "/key"}, &resp); err != nil {
		return nil, err
	}
	if resp.Key == nil {
		return nil, fmt.Errorf("no key returned")
	}
	resp.Key.client = c
	return resp.Key, nil
}

// Activate re-enables the key for authentication.
func (k *ApiKey) Activate(ctx context.Context) error {
	err := k.client.ask(ctx, &askRequest{
		method: http.MethodPost,
		path:   "/key/" + url.PathEscape(k.ID) + "/activate",
	}, nil)
	if err != nil {
		return err
	}
	k.Active = true
	return nil
}

// Deactivate disables the key. Requests signed with it fail until it is
// activated again.
func (k *ApiKey) Deactivate(ctx context.Context) error {
	err := k.client.ask(ctx, &askRequest{
		method: http.MethodPost,
		path:   "/key/" + url.PathEscape(k.ID) + "/deactivate",
	}, nil)
	if err != nil {
		return err
	}
	k.Active = false
	return nil
}
