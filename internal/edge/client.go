package edge

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CertDetails is the edge's view of its currently installed certificate
type CertDetails struct {
	Subject     string `json:"subject"`
	SigningType string `json:"signing_type"`
	SignedBy    string `json:"signed_by"`
	Expiry      string `json:"expiry"`
}

// Task is the state of an asynchronous task on the edge management endpoint
type Task struct {
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

// Task status reported by the edge while the renewal is still running
const TaskStatusExecuting = "executing"

// Client talks to the edge management endpoint. The edge usually presents a
// self-signed certificate, so the client carries its own transport with
// certificate verification disabled when insecure is set. The transport is
// scoped to this client instance; no process-wide TLS setting is ever
// touched.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates an edge management client for the given base URL
func NewClient(baseURL string, insecure bool) *Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: insecure,
		},
		TLSHandshakeTimeout: 15 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: transport,
		},
		baseURL: baseURL,
	}
}

// GetCertDetails fetches the currently installed certificate details
func (c *Client) GetCertDetails(ctx context.Context) (*CertDetails, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/edge/configuration/certificate", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get certificate details: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("edge returned status %d for certificate details", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var details CertDetails
	if err := json.Unmarshal(respBody, &details); err != nil {
		return nil, fmt.Errorf("failed to parse certificate details: %w", err)
	}

	return &details, nil
}
