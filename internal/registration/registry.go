package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"barcode-edge-agent/internal/config"
	pkgerrors "barcode-edge-agent/pkg/errors"
)

var (
	ErrIdentityNotFound = errors.New("identity not found in registry")
	ErrIdentityExists   = errors.New("identity already exists in registry")
)

// RegistryClient talks to the remote device identity registry. From the
// caller's perspective get-then-create is idempotent: creating an id
// that already exists reports ErrIdentityExists instead of minting a
// second identity.
type RegistryClient interface {
	GetIdentity(ctx context.Context, deviceID string) (string, error)
	CreateIdentity(ctx context.Context, deviceID string) (string, error)
	RotateIdentity(ctx context.Context, deviceID string) (string, error)
}

// HTTPRegistryClient is the production registry client.
type HTTPRegistryClient struct {
	cfg    config.RegistryConfig
	client *http.Client
}

func NewHTTPRegistryClient(cfg config.RegistryConfig) *HTTPRegistryClient {
	return &HTTPRegistryClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type identityResponse struct {
	DeviceID   string `json:"device_id"`
	Credential string `json:"credential"`
}

type identityRequest struct {
	DeviceID string `json:"device_id"`
}

func (c *HTTPRegistryClient) GetIdentity(ctx context.Context, deviceID string) (string, error) {
	url := fmt.Sprintf("%s/identities/%s", c.cfg.BaseURL, deviceID)

	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return c.decodeCredential(resp.Body)
	case resp.StatusCode == http.StatusNotFound:
		return "", ErrIdentityNotFound
	default:
		return "", c.classifyStatus(resp, "identity lookup")
	}
}

func (c *HTTPRegistryClient) CreateIdentity(ctx context.Context, deviceID string) (string, error) {
	url := fmt.Sprintf("%s/identities", c.cfg.BaseURL)

	body, err := json.Marshal(identityRequest{DeviceID: deviceID})
	if err != nil {
		return "", pkgerrors.Transient("failed to encode identity request", err)
	}

	resp, err := c.do(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		return c.decodeCredential(resp.Body)
	case resp.StatusCode == http.StatusConflict:
		return "", ErrIdentityExists
	default:
		return "", c.classifyStatus(resp, "identity creation")
	}
}

func (c *HTTPRegistryClient) RotateIdentity(ctx context.Context, deviceID string) (string, error) {
	url := fmt.Sprintf("%s/identities/%s/rotate", c.cfg.BaseURL, deviceID)

	resp, err := c.do(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return c.decodeCredential(resp.Body)
	case resp.StatusCode == http.StatusNotFound:
		return "", ErrIdentityNotFound
	default:
		return "", c.classifyStatus(resp, "identity rotation")
	}
}

func (c *HTTPRegistryClient) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, pkgerrors.Transient("failed to build registry request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, pkgerrors.Transient("registry unreachable", err)
	}

	return resp, nil
}

func (c *HTTPRegistryClient) decodeCredential(body io.Reader) (string, error) {
	var identity identityResponse
	if err := json.NewDecoder(body).Decode(&identity); err != nil {
		return "", pkgerrors.Transient("failed to decode registry response", err)
	}
	if identity.Credential == "" {
		return "", pkgerrors.Transient("registry returned an empty credential", nil)
	}

	return identity.Credential, nil
}

// classifyStatus maps registry HTTP failures onto the error taxonomy:
// a 4xx means the registry rejected this identifier and retrying cannot
// help, anything else is treated as a registry-side outage.
func (c *HTTPRegistryClient) classifyStatus(resp *http.Response, operation string) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return pkgerrors.PermanentDevice(
			fmt.Sprintf("%s rejected with status %d: %s", operation, resp.StatusCode, string(detail)), nil)
	}

	return pkgerrors.Transient(
		fmt.Sprintf("%s failed with status %d", operation, resp.StatusCode), nil)
}
