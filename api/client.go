// Package api provides the HTTP client for the Ovvio VPN control API:
// client registration on the IKEv2 gateways and the server directory.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ovvio/vpn-client/common"
	"github.com/ovvio/vpn-client/vpn"
)

const defaultTimeout = 30 * time.Second

// Client talks to the control API. It implements vpn.RegistrationClient
// and vpn.ServerLister.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client against the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// registerRequest is the body of the register-client call.
type registerRequest struct {
	IP         string `json:"ip"`
	ClientName string `json:"client_name"`
	Password   string `json:"password"`
}

// ClientInfo describes a registered IKEv2 client on a gateway.
type ClientInfo struct {
	ClientName string `json:"client_name"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
}

// Register registers an IKEv2 client on the gateway at ip under the
// given name and password. The gateway reports acceptance in the
// response body, not in the HTTP status, so callers must check
// RegisterResult.Connected.
func (c *Client) Register(ctx context.Context, ip, clientName, password, token string) (vpn.RegisterResult, error) {
	var result vpn.RegisterResult

	body := registerRequest{IP: ip, ClientName: clientName, Password: password}
	if err := c.do(ctx, http.MethodPost, "/api/vpn/register-client", nil, body, bearerAuth(token), &result); err != nil {
		return result, err
	}
	return result, nil
}

// Servers fetches the server directory for the given platform.
func (c *Client) Servers(ctx context.Context, platform, token string) ([]vpn.Country, error) {
	var response vpn.ServerResponse

	query := url.Values{"platform": []string{platform}}
	if err := c.do(ctx, http.MethodGet, "/api/servers", query, nil, bearerAuth(token), &response); err != nil {
		return nil, err
	}
	return response.Servers, nil
}

// ClientStatus looks up a registered client by name on the gateway.
// This endpoint authenticates with the gateway API token rather than
// the user's bearer token.
func (c *Client) ClientStatus(ctx context.Context, clientName, apiToken string) (ClientInfo, error) {
	var info ClientInfo

	path := "/api/ikev2/clients/" + url.PathEscape(clientName)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, apiTokenAuth(apiToken), &info); err != nil {
		return info, err
	}
	return info, nil
}

// DeleteClient removes a registered client from the gateway.
func (c *Client) DeleteClient(ctx context.Context, clientName, apiToken string) error {
	path := "/api/ikev2/clients/" + url.PathEscape(clientName)
	return c.do(ctx, http.MethodDelete, path, nil, nil, apiTokenAuth(apiToken), nil)
}

type authFunc func(r *http.Request)

func bearerAuth(token string) authFunc {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func apiTokenAuth(token string) authFunc {
	return func(r *http.Request) {
		r.Header.Set("X-Api-Token", token)
	}
}

// do performs one API round trip, encoding body as JSON when present
// and decoding the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, auth authFunc, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != nil {
		auth(req)
	}

	common.LogDebug("API %s %s", method, path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return common.ErrNotAuthenticated
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("api: %s %s returned %s", method, path, resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decoding %s response: %w", path, err)
	}
	return nil
}
