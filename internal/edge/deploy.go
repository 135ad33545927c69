package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	pollAttempts = 10
	pollInterval = 10 * time.Second
)

// DeploymentError indicates the certificate could not be applied on the
// edge. Effects of earlier pipeline steps (the issued local certificate,
// the uploaded archive) are retained, not rolled back.
type DeploymentError struct {
	Step string
	Err  error
}

func (e *DeploymentError) Error() string {
	return fmt.Sprintf("deployment failed during %s: %v", e.Step, e.Err)
}

func (e *DeploymentError) Unwrap() error {
	return e.Err
}

// Artifact is a local file to stream to the edge under an upload name
type Artifact struct {
	Path       string
	UploadName string
}

// Deployer drives the certificate replacement task on the edge:
// create request, upload certificate then key, poll until terminal.
type Deployer struct {
	client *Client
	logger *logrus.Entry
	sleep  func(time.Duration)
}

// NewDeployer creates a deployer for the given edge client
func NewDeployer(client *Client, logger *logrus.Entry) *Deployer {
	return &Deployer{
		client: client,
		logger: logger.WithField("component", "edge-deployer"),
		sleep:  time.Sleep,
	}
}

// Deploy uploads the certificate and key to the edge and waits for the
// renewal task to reach a terminal state
func (d *Deployer) Deploy(ctx context.Context, cert, key Artifact) error {
	taskID, err := d.createRenewalRequest(ctx)
	if err != nil {
		return &DeploymentError{Step: "create", Err: err}
	}
	d.logger.WithField("task_id", taskID).Debug("Certificate renewal task created")

	// Upload order is fixed: the edge treats certificate and key as
	// independent sequential uploads, not a single transaction.
	if err := d.uploadArtifact(ctx, taskID, "certificate", cert); err != nil {
		return &DeploymentError{Step: "upload certificate", Err: err}
	}
	d.logger.Debug("Certificate uploaded")

	if err := d.uploadArtifact(ctx, taskID, "certificate_key", key); err != nil {
		return &DeploymentError{Step: "upload key", Err: err}
	}
	d.logger.Debug("Certificate key uploaded")

	if err := d.awaitTask(ctx, taskID); err != nil {
		return &DeploymentError{Step: "polling", Err: err}
	}

	d.logger.Info("Successfully renewed certificate of edge")
	return nil
}

// createRenewalRequest creates a certificate upload task; expects 201.
// Any other status is fatal without retry since a malformed request is
// not transient.
func (d *Deployer) createRenewalRequest(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"renewal_type": "upload"})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.client.baseURL+"/edge/configuration/certificate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to create renewal request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unable to create renewal request, received status %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", fmt.Errorf("failed to parse renewal request response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("renewal request response has no task ID")
	}

	return created.ID, nil
}

// uploadArtifact streams a local file as octet-stream to the per-task
// upload endpoint; expects 201
func (d *Deployer) uploadArtifact(ctx context.Context, taskID, kind string, artifact Artifact) error {
	file, err := os.Open(artifact.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", artifact.Path, err)
	}
	defer file.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/edge/upload/%s/%s", d.client.baseURL, taskID, kind), file)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, artifact.UploadName))

	resp, err := d.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", artifact.UploadName, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unable to upload %s, received status %d", artifact.UploadName, resp.StatusCode)
	}

	return nil
}

// awaitTask polls the task until it leaves the executing state or the
// attempt budget is exhausted. A non-200 poll response counts as "not yet
// ready" and is retried within the same budget.
func (d *Deployer) awaitTask(ctx context.Context, taskID string) error {
	for i := 0; i < pollAttempts; i++ {
		d.logger.WithField("attempt", i+1).Debug("Waiting before checking renewal task status")
		d.sleep(pollInterval)

		task, err := d.getTask(ctx, taskID)
		if err != nil {
			d.logger.WithError(err).Debug("Renewal task not ready yet")
			continue
		}

		d.logger.WithField("status", task.Status).Info("Renewal task status")
		if task.FailureReason != "" {
			d.logger.Warn(task.FailureReason)
		}

		if task.Status == TaskStatusExecuting {
			continue
		}
		if task.Status == "failed" {
			return fmt.Errorf("renewal task failed: %s", task.FailureReason)
		}
		return nil
	}

	return fmt.Errorf("renewal task did not finish within %d attempts", pollAttempts)
}

// getTask fetches the current task state; non-200 responses are errors so
// the caller can treat them as "not yet ready"
func (d *Deployer) getTask(ctx context.Context, taskID string) (*Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.client.baseURL+"/edge/tasks/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("edge returned status %d for task %s", resp.StatusCode, taskID)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var task Task
	if err := json.Unmarshal(respBody, &task); err != nil {
		return nil, fmt.Errorf("failed to parse task: %w", err)
	}

	return &task, nil
}
