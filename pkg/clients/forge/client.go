package forge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is a bearer-token REST client for the source-hosting platform.
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

// GenerateFromTemplate creates a new repository from a template repository.
func (c *Client) GenerateFromTemplate(ctx context.Context, templateOwner, templateRepo string, req GenerateRequest) (*Repository, error) {
	path := fmt.Sprintf("/repos/%s/%s/generate", url.PathEscape(templateOwner), url.PathEscape(templateRepo))
	repo := &Repository{}
	if err := c.do(ctx, http.MethodPost, path, req, repo); err != nil {
		return nil, err
	}
	return repo, nil
}

// GetRepository fetches repository metadata.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*Repository, error) {
	path := fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(repo))
	out := &Repository{}
	if err := c.do(ctx, http.MethodGet, path, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRepository deletes a repository.
func (c *Client) DeleteRepository(ctx context.Context, owner, repo string) error {
	path := fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(repo))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// GetContents fetches a file's content and SHA by path.
func (c *Client) GetContents(ctx context.Context, owner, repo, filePath string) (*FileContent, error) {
	path := fmt.Sprintf("/repos/%s/%s/contents/%s", url.PathEscape(owner), url.PathEscape(repo), filePath)
	out := &FileContent{}
	if err := c.do(ctx, http.MethodGet, path, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode returns the decoded file content.
func (f *FileContent) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.Content)
}

// PutContents creates or replaces a file. For a replacement, sha must be the
// current blob SHA; for a new file it is empty.
func (c *Client) PutContents(ctx context.Context, owner, repo, filePath, message string, content []byte, sha string) error {
	path := fmt.Sprintf("/repos/%s/%s/contents/%s", url.PathEscape(owner), url.PathEscape(repo), filePath)
	body := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
	}
	if sha != "" {
		body["sha"] = sha
	}
	return c.do(ctx, http.MethodPut, path, body, nil)
}

// DeleteContents deletes a file by path and SHA.
func (c *Client) DeleteContents(ctx context.Context, owner, repo, filePath, message, sha string) error {
	path := fmt.Sprintf("/repos/%s/%s/contents/%s", url.PathEscape(owner), url.PathEscape(repo), filePath)
	body := map[string]string{
		"message": message,
		"sha":     sha,
	}
	return c.do(ctx, http.MethodDelete, path, body, nil)
}

// GetPublicKey fetches the repository's secret-encryption public key.
func (c *Client) GetPublicKey(ctx context.Context, owner, repo string) (*PublicKey, error) {
	path := fmt.Sprintf("/repos/%s/%s/actions/secrets/public-key", url.PathEscape(owner), url.PathEscape(repo))
	out := &PublicKey{}
	if err := c.do(ctx, http.MethodGet, path, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// PutSecret creates or updates an encrypted repository secret. The value must
// already be sealed-box encrypted with the repository public key and
// base64-encoded.
func (c *Client) PutSecret(ctx context.Context, owner, repo, name, encryptedValue, keyID string) error {
	path := fmt.Sprintf("/repos/%s/%s/actions/secrets/%s", url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(name))
	body := map[string]string{
		"encrypted_value": encryptedValue,
		"key_id":          keyID,
	}
	return c.do(ctx, http.MethodPut, path, body, nil)
}

// IsCollaborator checks whether a user is already a repository collaborator.
func (c *Client) IsCollaborator(ctx context.Context, owner, repo, username string) (bool, error) {
	path := fmt.Sprintf("/repos/%s/%s/collaborators/%s", url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(username))
	err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsNotFound() {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// InviteCollaborator invites a user to the repository with the given
// permission (pull, push, admin).
func (c *Client) InviteCollaborator(ctx context.Context, owner, repo, username, permission string) error {
	path := fmt.Sprintf("/repos/%s/%s/collaborators/%s", url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(username))
	body := map[string]string{"permission": permission}
	return c.do(ctx, http.MethodPut, path, body, nil)
}

// do executes one API call, decoding the JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("forge: failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("forge: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("forge: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("forge: failed to read response: %w", err)
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
			return fmt.Errorf("forge: failed to decode response: %w", err)
		}
	}
	return nil
}
