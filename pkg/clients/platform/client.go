package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is a bearer-token REST client for the deployment/feature-flag
// platform.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client against the given API base URL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// GetOrganization fetches organization metadata.
func (c *Client) GetOrganization(ctx context.Context, orgID string) (*Organization, error) {
	out := &Organization{}
	if err := c.do(ctx, http.MethodGet, c.orgPath(orgID, ""), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListServices lists services of the given kind ("" for all kinds).
func (c *Client) ListServices(ctx context.Context, orgID, kind string) ([]Service, error) {
	path := c.orgPath(orgID, "/services")
	if kind != "" {
		path += "?kind=" + url.QueryEscape(kind)
	}
	var out []Service
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateService creates a component or application service.
func (c *Client) CreateService(ctx context.Context, orgID string, req ServiceCreate) (*Service, error) {
	out := &Service{}
	if err := c.do(ctx, http.MethodPost, c.orgPath(orgID, "/services"), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateService updates a service's link sets.
func (c *Client) UpdateService(ctx context.Context, orgID, serviceID string, req ServiceUpdate) (*Service, error) {
	path := c.orgPath(orgID, "/services/"+url.PathEscape(serviceID))
	out := &Service{}
	if err := c.do(ctx, http.MethodPut, path, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteService deletes a service.
func (c *Client) DeleteService(ctx context.Context, orgID, serviceID string) error {
	return c.do(ctx, http.MethodDelete, c.orgPath(orgID, "/services/"+url.PathEscape(serviceID)), nil, nil)
}

// ListEnvironments lists the organization's environments.
func (c *Client) ListEnvironments(ctx context.Context, orgID string) ([]Environment, error) {
	var out []Environment
	if err := c.do(ctx, http.MethodGet, c.orgPath(orgID, "/endpoints"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetEnvironment fetches one environment including its current version.
func (c *Client) GetEnvironment(ctx context.Context, orgID, envID string) (*Environment, error) {
	out := &Environment{}
	if err := c.do(ctx, http.MethodGet, c.orgPath(orgID, "/endpoints/"+url.PathEscape(envID)), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateEnvironment creates an environment with an initial property list.
func (c *Client) CreateEnvironment(ctx context.Context, orgID string, req EnvironmentCreate) (*Environment, error) {
	out := &Environment{}
	if err := c.do(ctx, http.MethodPost, c.orgPath(orgID, "/endpoints"), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateEnvironment replaces an environment's property list. The payload
// version must match the stored version; a stale version yields a 409.
func (c *Client) UpdateEnvironment(ctx context.Context, orgID string, env *Environment) (*Environment, error) {
	path := c.orgPath(orgID, "/endpoints/"+url.PathEscape(env.ID))
	out := &Environment{}
	if err := c.do(ctx, http.MethodPut, path, env, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteEnvironment deletes an environment.
func (c *Client) DeleteEnvironment(ctx context.Context, orgID, envID string) error {
	return c.do(ctx, http.MethodDelete, c.orgPath(orgID, "/endpoints/"+url.PathEscape(envID)), nil, nil)
}

// ListFlags lists the organization's feature flags.
func (c *Client) ListFlags(ctx context.Context, orgID string) ([]Flag, error) {
	var out []Flag
	if err := c.do(ctx, http.MethodGet, c.orgPath(orgID, "/flags"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateFlag creates a feature flag.
func (c *Client) CreateFlag(ctx context.Context, orgID string, req FlagCreate) (*Flag, error) {
	out := &Flag{}
	if err := c.do(ctx, http.MethodPost, c.orgPath(orgID, "/flags"), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ConfigureFlag enables or disables a flag in one environment. The binding is
// idempotent and may be re-applied.
func (c *Client) ConfigureFlag(ctx context.Context, orgID, flagID string, cfg FlagConfig) error {
	path := c.orgPath(orgID, "/flags/"+url.PathEscape(flagID)+"/config")
	return c.do(ctx, http.MethodPut, path, cfg, nil)
}

// GetSDKKey fetches an environment's runtime SDK key (legacy
// organization-scoped form).
func (c *Client) GetSDKKey(ctx context.Context, orgID, envID string) (*SDKKey, error) {
	path := c.orgPath(orgID, "/endpoints/"+url.PathEscape(envID)+"/sdk-key")
	out := &SDKKey{}
	if err := c.do(ctx, http.MethodGet, path, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetApplicationSDKKey fetches an environment's SDK key scoped to an
// application (newer form).
func (c *Client) GetApplicationSDKKey(ctx context.Context, orgID, appID, envID string) (*SDKKey, error) {
	path := c.orgPath(orgID, fmt.Sprintf("/services/%s/endpoints/%s/sdk-key", url.PathEscape(appID), url.PathEscape(envID)))
	out := &SDKKey{}
	if err := c.do(ctx, http.MethodGet, path, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListProperties lists the organization's named properties.
func (c *Client) ListProperties(ctx context.Context, orgID string) ([]Property, error) {
	var out []Property
	if err := c.do(ctx, http.MethodGet, c.orgPath(orgID, "/properties"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PutProperty creates or updates a named property or secret on the
// organization.
func (c *Client) PutProperty(ctx context.Context, orgID string, prop Property) error {
	path := c.orgPath(orgID, "/properties/"+url.PathEscape(prop.Name))
	return c.do(ctx, http.MethodPut, path, prop, nil)
}

// orgPath builds an organization-scoped API path.
func (c *Client) orgPath(orgID, suffix string) string {
	return "/orgs/" + url.PathEscape(orgID) + suffix
}

// do executes one API call, decoding the JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("platform: failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("platform: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("platform: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("platform: failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Body:       string(data),
		}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("platform: failed to decode response: %w", err)
		}
	}
	return nil
}
