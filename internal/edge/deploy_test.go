package edge

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(logger)
}

// edgeFixture is a fake edge management endpoint recording the request
// sequence and serving a scripted series of task states
type edgeFixture struct {
	mu          sync.Mutex
	requests    []string
	uploads     map[string][]byte
	taskStates  []Task
	pollCount   int
	failCreate  bool
	failUploads bool
}

func newEdgeFixture() *edgeFixture {
	return &edgeFixture{uploads: map[string][]byte{}}
}

func (f *edgeFixture) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /edge/configuration/certificate", func(w http.ResponseWriter, r *http.Request) {
		f.record("create")
		if f.failCreate {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "task-42"})
	})

	mux.HandleFunc("POST /edge/upload/task-42/{kind}", func(w http.ResponseWriter, r *http.Request) {
		kind := r.PathValue("kind")
		f.record("upload " + kind)
		if f.failUploads {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.uploads[kind] = body
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("GET /edge/tasks/task-42", func(w http.ResponseWriter, r *http.Request) {
		f.record("poll")
		f.mu.Lock()
		idx := f.pollCount
		f.pollCount++
		f.mu.Unlock()

		if idx >= len(f.taskStates) {
			idx = len(f.taskStates) - 1
		}
		json.NewEncoder(w).Encode(f.taskStates[idx])
	})

	return mux
}

func (f *edgeFixture) record(step string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, step)
}

func writeArtifacts(t *testing.T) (cert, key Artifact) {
	t.Helper()
	dir := t.TempDir()

	certPath := filepath.Join(dir, "fullchain.cer")
	keyPath := filepath.Join(dir, "edge.key")
	if err := os.WriteFile(certPath, []byte("CERT-PEM"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, []byte("KEY-PEM"), 0600); err != nil {
		t.Fatal(err)
	}

	cert = Artifact{Path: certPath, UploadName: "edge.example.com-fullchain.crt"}
	key = Artifact{Path: keyPath, UploadName: "edge.example.com.key"}
	return cert, key
}

// newTestDeployer builds a deployer against the fixture server with the
// poll sleep replaced by a recorder
func newTestDeployer(server *httptest.Server) (*Deployer, *[]time.Duration) {
	client := NewClient(server.URL, false)
	deployer := NewDeployer(client, testLogger())

	var sleeps []time.Duration
	deployer.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return deployer, &sleeps
}

func TestDeploy_Success(t *testing.T) {
	fixture := newEdgeFixture()
	fixture.taskStates = []Task{
		{Status: TaskStatusExecuting},
		{Status: TaskStatusExecuting},
		{Status: "successful"},
	}
	server := httptest.NewServer(fixture.handler())
	defer server.Close()

	cert, key := writeArtifacts(t)
	deployer, sleeps := newTestDeployer(server)

	if err := deployer.Deploy(context.Background(), cert, key); err != nil {
		t.Fatalf("Deploy() failed: %v", err)
	}

	want := []string{"create", "upload certificate", "upload certificate_key", "poll", "poll", "poll"}
	if strings.Join(fixture.requests, ",") != strings.Join(want, ",") {
		t.Errorf("Expected request sequence %v, got %v", want, fixture.requests)
	}

	if string(fixture.uploads["certificate"]) != "CERT-PEM" {
		t.Errorf("Unexpected certificate body %q", fixture.uploads["certificate"])
	}
	if string(fixture.uploads["certificate_key"]) != "KEY-PEM" {
		t.Errorf("Unexpected key body %q", fixture.uploads["certificate_key"])
	}

	// Each poll attempt is preceded by one interval wait
	if len(*sleeps) != 3 {
		t.Fatalf("Expected 3 waits, got %d", len(*sleeps))
	}
	for _, d := range *sleeps {
		if d != 10*time.Second {
			t.Errorf("Expected 10s wait, got %v", d)
		}
	}
}

func TestDeploy_PollingExhausted(t *testing.T) {
	fixture := newEdgeFixture()
	fixture.taskStates = []Task{{Status: TaskStatusExecuting}}
	server := httptest.NewServer(fixture.handler())
	defer server.Close()

	cert, key := writeArtifacts(t)
	deployer, sleeps := newTestDeployer(server)

	err := deployer.Deploy(context.Background(), cert, key)
	if err == nil {
		t.Fatal("Expected timeout error")
	}

	var depErr *DeploymentError
	if !errors.As(err, &depErr) {
		t.Fatalf("Expected DeploymentError, got %T", err)
	}
	if depErr.Step != "polling" {
		t.Errorf("Expected polling step, got %s", depErr.Step)
	}

	if fixture.pollCount != 10 {
		t.Errorf("Expected exactly 10 poll attempts, got %d", fixture.pollCount)
	}
	if len(*sleeps) != 10 {
		t.Errorf("Expected 10 waits, got %d", len(*sleeps))
	}
}

func TestDeploy_TaskFailed(t *testing.T) {
	fixture := newEdgeFixture()
	fixture.taskStates = []Task{
		{Status: TaskStatusExecuting},
		{Status: "failed", FailureReason: "certificate does not match key"},
	}
	server := httptest.NewServer(fixture.handler())
	defer server.Close()

	cert, key := writeArtifacts(t)
	deployer, _ := newTestDeployer(server)

	err := deployer.Deploy(context.Background(), cert, key)
	if err == nil {
		t.Fatal("Expected error for failed task")
	}

	var depErr *DeploymentError
	if !errors.As(err, &depErr) {
		t.Fatalf("Expected DeploymentError, got %T", err)
	}
	if !strings.Contains(depErr.Error(), "certificate does not match key") {
		t.Errorf("Expected failure reason in error, got %v", depErr)
	}
}

func TestDeploy_CreateFails(t *testing.T) {
	fixture := newEdgeFixture()
	fixture.failCreate = true
	server := httptest.NewServer(fixture.handler())
	defer server.Close()

	cert, key := writeArtifacts(t)
	deployer, _ := newTestDeployer(server)

	err := deployer.Deploy(context.Background(), cert, key)
	if err == nil {
		t.Fatal("Expected error when task creation fails")
	}

	var depErr *DeploymentError
	if !errors.As(err, &depErr) {
		t.Fatalf("Expected DeploymentError, got %T", err)
	}
	if depErr.Step != "create" {
		t.Errorf("Expected create step, got %s", depErr.Step)
	}

	// No upload may happen without a task
	if len(fixture.requests) != 1 {
		t.Errorf("Expected only the create request, got %v", fixture.requests)
	}
}

func TestDeploy_UploadFails(t *testing.T) {
	fixture := newEdgeFixture()
	fixture.failUploads = true
	server := httptest.NewServer(fixture.handler())
	defer server.Close()

	cert, key := writeArtifacts(t)
	deployer, _ := newTestDeployer(server)

	err := deployer.Deploy(context.Background(), cert, key)
	if err == nil {
		t.Fatal("Expected error when upload fails")
	}

	var depErr *DeploymentError
	if !errors.As(err, &depErr) {
		t.Fatalf("Expected DeploymentError, got %T", err)
	}
	if depErr.Step != "upload certificate" {
		t.Errorf("Expected upload certificate step, got %s", depErr.Step)
	}
}

func TestDeploy_NotReadyPollsRetried(t *testing.T) {
	var pollSeen int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /edge/configuration/certificate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"task-42"}`)
	})
	mux.HandleFunc("POST /edge/upload/task-42/{kind}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /edge/tasks/task-42", func(w http.ResponseWriter, r *http.Request) {
		pollSeen++
		// First two polls are not ready yet; they consume attempts but do
		// not abort
		if pollSeen <= 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(Task{Status: "successful"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cert, key := writeArtifacts(t)
	deployer, sleeps := newTestDeployer(server)

	if err := deployer.Deploy(context.Background(), cert, key); err != nil {
		t.Fatalf("Deploy() failed: %v", err)
	}
	if pollSeen != 3 {
		t.Errorf("Expected 3 polls, got %d", pollSeen)
	}
	if len(*sleeps) != 3 {
		t.Errorf("Expected 3 waits, got %d", len(*sleeps))
	}
}

func TestNewClient_TransportScoped(t *testing.T) {
	insecure := NewClient("https://edge", true)
	secure := NewClient("https://edge", false)

	tlsConfig := func(c *Client) *tls.Config {
		return c.httpClient.Transport.(*http.Transport).TLSClientConfig
	}

	if !tlsConfig(insecure).InsecureSkipVerify {
		t.Error("Expected verification disabled on insecure client")
	}
	if tlsConfig(secure).InsecureSkipVerify {
		t.Error("Expected verification enabled on default client")
	}

	// The process-wide default transport must never be modified
	if dt, ok := http.DefaultTransport.(*http.Transport); ok {
		if dt.TLSClientConfig != nil && dt.TLSClientConfig.InsecureSkipVerify {
			t.Error("Default transport must not be touched")
		}
	}
}

func TestGetCertDetails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /edge/configuration/certificate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(CertDetails{
			Subject:     "edge.example.com",
			SigningType: "self-signed",
			Expiry:      "2026-12-01T00:00:00Z",
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, false)
	details, err := client.GetCertDetails(context.Background())
	if err != nil {
		t.Fatalf("GetCertDetails() failed: %v", err)
	}
	if details.Subject != "edge.example.com" {
		t.Errorf("Unexpected subject %s", details.Subject)
	}
	if details.Expiry != "2026-12-01T00:00:00Z" {
		t.Errorf("Unexpected expiry %s", details.Expiry)
	}
}

func TestGetCertDetails_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, false)
	if _, err := client.GetCertDetails(context.Background()); err == nil {
		t.Fatal("Expected error for non-200 status")
	}
}
