package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"edge_certd/internal/config"
)

// Client talks to the IoT platform REST API (tenant options, inventory
// binaries, events). All durable state of the renewal service lives behind
// this client; nothing is persisted locally except the ACME state directory.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tenant     string
	user       string
	password   string
	appName    string
	appKey     string
}

// NewClient creates a platform client with basic auth
func NewClient(cfg *config.Config) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL:  cfg.Platform.BaseURL,
		tenant:   cfg.Platform.Tenant,
		user:     cfg.Platform.User,
		password: cfg.Platform.Password,
		appName:  cfg.Platform.ApplicationName,
		appKey:   cfg.Platform.ApplicationKey,
	}
}

// ApplicationName returns the application name used as tenant option category
func (c *Client) ApplicationName() string {
	return c.appName
}

// Owner returns the platform user owning uploaded binaries
func (c *Client) Owner() string {
	return c.user
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	user := c.user
	if c.tenant != "" {
		user = c.tenant + "/" + c.user
	}
	req.SetBasicAuth(user, c.password)
	if c.appKey != "" {
		req.Header.Set("X-Cumulocity-Application-Key", c.appKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, wantStatus int) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != wantStatus {
		return nil, fmt.Errorf("platform returned status %d for %s %s: %s",
			resp.StatusCode, req.Method, req.URL.Path, string(respBody))
	}

	return respBody, nil
}

// ListTenantOptions returns all tenant options of the given category as a
// flat key/value mapping
func (c *Client) ListTenantOptions(ctx context.Context, category string) (map[string]string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/tenant/options/"+category, nil)
	if err != nil {
		return nil, err
	}

	respBody, err := c.do(req, http.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("failed to list options of category %s: %w", category, err)
	}

	options := make(map[string]string)
	if err := json.Unmarshal(respBody, &options); err != nil {
		return nil, fmt.Errorf("failed to parse options: %w", err)
	}

	return options, nil
}

// CreateTenantOption stores a tenant option
func (c *Client) CreateTenantOption(ctx context.Context, category, key, value string) error {
	payload := map[string]string{
		"category": category,
		"key":      key,
		"value":    value,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal option: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/tenant/options", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if _, err := c.do(req, http.StatusCreated); err != nil {
		return fmt.Errorf("failed to create option %s: %w", key, err)
	}
	return nil
}

// EdgeTenantDomain returns the domain of the edge tenant, used as the
// fallback primary domain when the "domain" option is unset
func (c *Client) EdgeTenantDomain(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/tenant/tenants/edge", nil)
	if err != nil {
		return "", err
	}

	respBody, err := c.do(req, http.StatusOK)
	if err != nil {
		return "", fmt.Errorf("failed to get edge tenant: %w", err)
	}

	var tenant struct {
		Domain string `json:"domain"`
	}
	if err := json.Unmarshal(respBody, &tenant); err != nil {
		return "", fmt.Errorf("failed to parse tenant: %w", err)
	}
	if tenant.Domain == "" {
		return "", fmt.Errorf("edge tenant has no domain")
	}

	return tenant.Domain, nil
}

// UploadBinary uploads data to the inventory binary storage and returns the
// created binary ID
func (c *Client) UploadBinary(ctx context.Context, name string, data []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	objectPart, err := writer.CreateFormField("object")
	if err != nil {
		return "", fmt.Errorf("failed to create object part: %w", err)
	}
	object := map[string]string{"name": name, "type": "application/octet-stream"}
	if err := json.NewEncoder(objectPart).Encode(object); err != nil {
		return "", fmt.Errorf("failed to encode object part: %w", err)
	}

	filePart, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := filePart.Write(data); err != nil {
		return "", fmt.Errorf("failed to write file part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/inventory/binaries", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	respBody, err := c.do(req, http.StatusCreated)
	if err != nil {
		return "", fmt.Errorf("failed to upload binary %s: %w", name, err)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", fmt.Errorf("failed to parse created binary: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("platform did not return an ID for binary %s", name)
	}

	return created.ID, nil
}

// DownloadBinary downloads a binary by ID
func (c *Client) DownloadBinary(ctx context.Context, id string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/inventory/binaries/"+id, nil)
	if err != nil {
		return nil, err
	}

	data, err := c.do(req, http.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("failed to download binary %s: %w", id, err)
	}

	return data, nil
}

// DeleteBinary deletes a binary by ID
func (c *Client) DeleteBinary(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/inventory/binaries/"+id, nil)
	if err != nil {
		return err
	}

	if _, err := c.do(req, http.StatusNoContent); err != nil {
		return fmt.Errorf("failed to delete binary %s: %w", id, err)
	}
	return nil
}

// FindNewestBinary returns the ID of the newest binary with the given name
// owned by the service user, or found=false when none exists
func (c *Client) FindNewestBinary(ctx context.Context, name string) (string, bool, error) {
	query := fmt.Sprintf(
		"$filter=(name eq '%s' and owner eq '%s' and has(c8y_IsBinary)) $orderby=creationTime.date desc,creationTime desc",
		name, c.user)
	path := "/inventory/managedObjects?query=" + url.QueryEscape(query) + "&pageSize=1"

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", false, err
	}

	respBody, err := c.do(req, http.StatusOK)
	if err != nil {
		return "", false, fmt.Errorf("failed to list binaries named %s: %w", name, err)
	}

	var result struct {
		ManagedObjects []struct {
			ID string `json:"id"`
		} `json:"managedObjects"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", false, fmt.Errorf("failed to parse binary list: %w", err)
	}

	if len(result.ManagedObjects) == 0 {
		return "", false, nil
	}
	return result.ManagedObjects[0].ID, true, nil
}

// PublishStatusEvent publishes a status event against the service's own
// device object. Callers treat failures as best-effort.
func (c *Client) PublishStatusEvent(ctx context.Context, text string) error {
	deviceID, err := c.findServiceDevice(ctx)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"source": map[string]string{"id": deviceID},
		"type":   "statusUpdate",
		"text":   text,
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/event/events", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if _, err := c.do(req, http.StatusCreated); err != nil {
		return fmt.Errorf("failed to publish status event: %w", err)
	}
	return nil
}

// findServiceDevice looks up the managed object registered for this
// application by name
func (c *Client) findServiceDevice(ctx context.Context) (string, error) {
	query := fmt.Sprintf("type eq 'c8y_Application_*' and name eq '%s'", c.appName)
	path := "/inventory/managedObjects?query=" + url.QueryEscape(query) + "&pageSize=1"

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}

	respBody, err := c.do(req, http.StatusOK)
	if err != nil {
		return "", fmt.Errorf("failed to find service device: %w", err)
	}

	var result struct {
		ManagedObjects []struct {
			ID string `json:"id"`
		} `json:"managedObjects"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse device list: %w", err)
	}

	if len(result.ManagedObjects) == 0 {
		return "", fmt.Errorf("device not found for application %s", c.appName)
	}
	return result.ManagedObjects[0].ID, nil
}
