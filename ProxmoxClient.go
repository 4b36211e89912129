package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const clientUserAgent = "proxmox-cert-sync/1.0"

// Per-call timeouts: the upload moves the full PEM payload, everything else
// is a small status or control request.
const (
	uploadTimeout  = 30 * time.Second
	requestTimeout = 15 * time.Second
)

// APIError is a non-success HTTP response from the Proxmox API.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed: HTTP %d %s", e.Op, e.StatusCode, e.Body)
}

// TaskError means the remote task stopped with a non-OK exit status. It is
// distinct from ErrPollTimeout: the remote said it failed, we did not just
// stop waiting.
type TaskError struct {
	TaskID     string
	ExitStatus string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("certificate upload task failed: %s", e.ExitStatus)
}

// ServiceRestartError identifies which service restart failed and how.
type ServiceRestartError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *ServiceRestartError) Error() string {
	return fmt.Sprintf("failed to restart service %s: HTTP %d %s", e.Service, e.StatusCode, e.Body)
}

// ErrPollTimeout is returned when a task never reaches a stopped state within
// the polling deadline.
var ErrPollTimeout = errors.New("timed out waiting for certificate upload task to complete")

// RemoteCertificateState is the node's reported certificate state, fetched
// for observability only.
type RemoteCertificateState struct {
	Fingerprint string `json:"fingerprint"`
	NotAfter    int64  `json:"notafter"`
}

// ProxmoxClient talks to one Proxmox VE node's HTTP API
type ProxmoxClient struct {
	BaseURL     string
	NodeName    string
	TokenID     string
	TokenSecret string
	HTTPClient  *http.Client

	// Sleep is swappable so poll pacing can be observed in tests
	Sleep func(d time.Duration)
}

// NewProxmoxClient builds a client from the configuration, wiring TLS
// verification to VERIFY_TLS / CA_BUNDLE_PATH.
func NewProxmoxClient(config Config) (*ProxmoxClient, error) {
	tlsConfig := &tls.Config{}
	if config.CABundlePath != "" {
		caPEM, err := os.ReadFile(config.CABundlePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle %s: %v", config.CABundlePath, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates found in CA bundle %s", config.CABundlePath)
		}
		tlsConfig.RootCAs = pool
	} else if !config.VerifyTLS {
		tlsConfig.InsecureSkipVerify = true
	}

	return &ProxmoxClient{
		BaseURL:     strings.TrimRight(config.APIURL, "/"),
		NodeName:    config.NodeName,
		TokenID:     config.TokenID,
		TokenSecret: config.TokenSecret,
		HTTPClient: &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		Sleep: time.Sleep,
	}, nil
}

func (c *ProxmoxClient) authHeader() string {
	return fmt.Sprintf("PVEAPIToken=%s=%s", c.TokenID, c.TokenSecret)
}

// Get issues an authenticated GET with a bounded per-call timeout and
// returns the buffered response body and HTTP status.
func (c *ProxmoxClient) Get(ctx context.Context, path string, timeout time.Duration) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}

	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("User-Agent", clientUserAgent)
	req.Header.Set("Accept", "application/json")

	return c.do(req)
}

// PostForm issues an authenticated form POST with a bounded per-call timeout
// and returns the buffered response body and HTTP status.
func (c *ProxmoxClient) PostForm(ctx context.Context, path string, form url.Values, timeout time.Duration) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, body)
	if err != nil {
		return nil, 0, err
	}

	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("User-Agent", clientUserAgent)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	return c.do(req)
}

// do runs the request and drains the body while the request context is still
// alive. The body must be consumed here: once Get/PostForm return, their
// timeout context is cancelled and a pending body read would be aborted.
func (c *ProxmoxClient) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %v", err)
	}
	return body, resp.StatusCode, nil
}

// apiResponse is the envelope every Proxmox JSON response uses.
type apiResponse struct {
	Data json.RawMessage `json:"data"`
}

// UploadCertificate sends the certificate (optionally concatenated with the
// CA bundle) and key to the node's certificate-installation endpoint. The
// returned task id is empty when the node completed the install synchronously.
func (c *ProxmoxClient) UploadCertificate(ctx context.Context, certPEM, keyPEM, caPEM []byte, includeCA bool) (string, error) {
	var bundle bytes.Buffer
	bundle.Write(certPEM)
	if includeCA && len(caPEM) > 0 {
		bundle.WriteByte('\n')
		bundle.Write(bytes.TrimSpace(caPEM))
		bundle.WriteByte('\n')
	}

	form := url.Values{
		"certificates": {bundle.String()},
		"key":          {string(keyPEM)},
		"force":        {"1"},
	}

	path := fmt.Sprintf("/api2/json/nodes/%s/certificates/custom", c.NodeName)
	body, statusCode, err := c.PostForm(ctx, path, form, uploadTimeout)
	if err != nil {
		return "", fmt.Errorf("certificate upload failed: %v", err)
	}
	if statusCode >= 400 {
		return "", &APIError{Op: "certificate upload", StatusCode: statusCode, Body: strings.TrimSpace(string(body))}
	}

	var payload apiResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("certificate upload returned malformed response: %v", err)
	}

	// data is a task id string for asynchronous installs, null otherwise
	var taskID string
	if err := json.Unmarshal(payload.Data, &taskID); err != nil {
		taskID = ""
	}

	logInfo("Certificate upload request sent, task_id=%q", taskID)
	return taskID, nil
}

// PollTask fetches task status at a fixed interval until the task stops or
// the wall-clock deadline passes. A stopped task with exit status "OK" is
// success; any other exit status is a TaskError. Blowing the deadline returns
// ErrPollTimeout, overshooting it by at most one interval.
func (c *ProxmoxClient) PollTask(ctx context.Context, taskID string, interval, timeout time.Duration) error {
	path := fmt.Sprintf("/api2/json/nodes/%s/tasks/%s/status", c.NodeName, url.PathEscape(taskID))
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		body, statusCode, err := c.Get(ctx, path, requestTimeout)
		if err != nil {
			return fmt.Errorf("task status fetch failed: %v", err)
		}
		if statusCode >= 400 {
			return &APIError{Op: "task status fetch", StatusCode: statusCode, Body: strings.TrimSpace(string(body))}
		}

		var payload apiResponse
		if err := json.Unmarshal(body, &payload); err != nil {
			return fmt.Errorf("task status fetch returned malformed response: %v", err)
		}
		var status struct {
			Status     string `json:"status"`
			ExitStatus string `json:"exitstatus"`
		}
		if len(payload.Data) > 0 {
			if err := json.Unmarshal(payload.Data, &status); err != nil {
				return fmt.Errorf("task status fetch returned malformed response: %v", err)
			}
		}

		if status.Status == "stopped" {
			if status.ExitStatus == "OK" {
				logInfo("Certificate upload task completed, task_id=%q", taskID)
				return nil
			}
			return &TaskError{TaskID: taskID, ExitStatus: status.ExitStatus}
		}

		logDebug("Task %s still %q, polling again in %s", taskID, status.Status, interval)
		c.Sleep(interval)
	}

	return fmt.Errorf("task %s: %w", taskID, ErrPollTimeout)
}

// RestartServices restarts each service in order; the first failure aborts
// the remaining restarts.
func (c *ProxmoxClient) RestartServices(ctx context.Context, services []string) error {
	for _, service := range services {
		// Proxmox expects POST for service restarts; PUT returns 501 on
		// recent releases.
		path := fmt.Sprintf("/api2/json/nodes/%s/services/%s/restart", c.NodeName, url.PathEscape(service))
		body, statusCode, err := c.PostForm(ctx, path, nil, requestTimeout)
		if err != nil {
			return fmt.Errorf("failed to restart service %s: %v", service, err)
		}
		if statusCode >= 400 {
			return &ServiceRestartError{Service: service, StatusCode: statusCode, Body: strings.TrimSpace(string(body))}
		}
		logInfo("Service restart requested, service=%s", service)
	}
	return nil
}

// VerifyRemoteCertificate fetches the node's reported certificate state.
// Callers use this for observability only and must never treat a failure
// here as fatal.
func (c *ProxmoxClient) VerifyRemoteCertificate(ctx context.Context) (*RemoteCertificateState, error) {
	path := fmt.Sprintf("/api2/json/nodes/%s/certificates/info", c.NodeName)
	body, statusCode, err := c.Get(ctx, path, requestTimeout)
	if err != nil {
		return nil, fmt.Errorf("certificate info fetch failed: %v", err)
	}
	if statusCode >= 400 {
		return nil, &APIError{Op: "certificate info fetch", StatusCode: statusCode, Body: strings.TrimSpace(string(body))}
	}

	var payload apiResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("certificate info fetch returned malformed response: %v", err)
	}
	state := &RemoteCertificateState{}
	if len(payload.Data) > 0 {
		if err := json.Unmarshal(payload.Data, state); err != nil {
			return nil, fmt.Errorf("certificate info fetch returned malformed response: %v", err)
		}
	}
	return state, nil
}
