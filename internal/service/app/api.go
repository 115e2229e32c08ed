package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"enigma/internal/model"

	"github.com/gorilla/websocket"
)

var (
	ErrNameTaken    = errors.New("name is bound to another identity")
	ErrUserNotFound = errors.New("user not found")
)

type (
	// apiClient talks to the key directory and the relay.
	apiClient struct {
		base *url.URL
		http *http.Client
	}
)

func newAPIClient(serverURL string, hc *http.Client) (*apiClient, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", serverURL)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &apiClient{base: u, http: hc}, nil
}

func (c *apiClient) endpoint(path string) string {
	u := *c.base
	u.Path = path
	return u.String()
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func (c *apiClient) getBundleOfUser(ctx context.Context, name string) (*model.IdentityBundle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/keys/"+url.PathEscape(name)), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", name, ErrUserNotFound)
	default:
		return nil, fmt.Errorf("get bundle of %s: %s", name, resp.Status)
	}

	var bundle model.IdentityBundle
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (c *apiClient) publishBundle(ctx context.Context, name string, bundle *model.IdentityBundle) error {
	data, err := json.Marshal(bundle)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint("/keys/"+url.PathEscape(name)), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", name, ErrNameTaken)
	default:
		return fmt.Errorf("publish bundle of %s: %s", name, resp.Status)
	}
}

func (c *apiClient) available(ctx context.Context, name string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/users/"+url.PathEscape(name)+"/available"), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("availability of %s: %s", name, resp.Status)
	}
	var body struct {
		Available bool `json:"available"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	return body.Available, nil
}

func (c *apiClient) initWebhook(ctx context.Context, name string) (*websocket.Conn, error) {
	params := url.Values{
		"userID": []string{name},
	}

	u := *c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = "/init"
	u.RawQuery = params.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	return conn, nil
}
