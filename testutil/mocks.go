package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
)

// TaskStatusResponse is one scripted answer for the task status endpoint.
type TaskStatusResponse struct {
	Status     string
	ExitStatus string
}

// MockProxmoxAPI is a scriptable stand-in for one Proxmox VE node's HTTP API.
// It records every certificate upload, task status poll, and service restart
// so tests can assert on call counts, payloads, and ordering.
type MockProxmoxAPI struct {
	server *httptest.Server

	mu sync.Mutex

	// Recorded traffic
	UploadForms       []url.Values
	AuthHeaders       []string
	StatusCalls       int
	RestartedServices []string
	InfoCalls         int

	// Scripted behavior
	TaskID             string               // upload response data; "" responds with null
	TaskStatuses       []TaskStatusResponse // consumed per poll; the last entry repeats
	FailUploads        int                  // first N uploads answer HTTP 500
	UploadStatusCode   int                  // overrides the upload status when non-zero
	FailRestartService string               // this service's restart answers HTTP 500
	FailInfo           bool                 // certificate info answers HTTP 500
	Fingerprint        string
	NotAfter           int64
}

// NewMockProxmoxAPI starts a mock API server
func NewMockProxmoxAPI() *MockProxmoxAPI {
	mock := &MockProxmoxAPI{
		Fingerprint: "AA:BB:CC:DD",
		NotAfter:    4102444800, // 2100-01-01
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock API base URL
func (m *MockProxmoxAPI) URL() string {
	return m.server.URL
}

// Close stops the mock server
func (m *MockProxmoxAPI) Close() {
	m.server.Close()
}

// UploadCalls returns how many certificate uploads the server has seen.
func (m *MockProxmoxAPI) UploadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.UploadForms)
}

func (m *MockProxmoxAPI) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AuthHeaders = append(m.AuthHeaders, r.Header.Get("Authorization"))
	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/certificates/custom") && r.Method == http.MethodPost:
		m.handleUpload(w, r)
	case strings.Contains(path, "/tasks/") && strings.HasSuffix(path, "/status") && r.Method == http.MethodGet:
		m.handleTaskStatus(w)
	case strings.Contains(path, "/services/") && strings.HasSuffix(path, "/restart") && r.Method == http.MethodPost:
		m.handleServiceRestart(w, path)
	case strings.HasSuffix(path, "/certificates/info") && r.Method == http.MethodGet:
		m.handleCertificateInfo(w)
	default:
		http.Error(w, fmt.Sprintf("unexpected request: %s %s", r.Method, path), http.StatusNotFound)
	}
}

func (m *MockProxmoxAPI) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m.UploadForms = append(m.UploadForms, r.PostForm)

	if m.FailUploads >= len(m.UploadForms) {
		http.Error(w, "mock upload failure", http.StatusInternalServerError)
		return
	}
	if m.UploadStatusCode != 0 && m.UploadStatusCode != http.StatusOK {
		http.Error(w, "mock upload failure", m.UploadStatusCode)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if m.TaskID == "" {
		w.Write([]byte(`{"data":null}`))
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"data": m.TaskID})
}

func (m *MockProxmoxAPI) handleTaskStatus(w http.ResponseWriter) {
	status := TaskStatusResponse{Status: "stopped", ExitStatus: "OK"}
	if len(m.TaskStatuses) > 0 {
		idx := m.StatusCalls
		if idx >= len(m.TaskStatuses) {
			idx = len(m.TaskStatuses) - 1
		}
		status = m.TaskStatuses[idx]
	}
	m.StatusCalls++

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data": map[string]string{
			"status":     status.Status,
			"exitstatus": status.ExitStatus,
		},
	})
}

func (m *MockProxmoxAPI) handleServiceRestart(w http.ResponseWriter, path string) {
	parts := strings.Split(path, "/")
	service := ""
	for i, part := range parts {
		if part == "services" && i+1 < len(parts) {
			service = parts[i+1]
			break
		}
	}
	m.RestartedServices = append(m.RestartedServices, service)

	if m.FailRestartService != "" && service == m.FailRestartService {
		http.Error(w, "mock restart failure", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"data":null}`))
}

func (m *MockProxmoxAPI) handleCertificateInfo(w http.ResponseWriter) {
	m.InfoCalls++

	if m.FailInfo {
		http.Error(w, "mock info failure", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data": map[string]interface{}{
			"fingerprint": m.Fingerprint,
			"notafter":    m.NotAfter,
		},
	})
}
