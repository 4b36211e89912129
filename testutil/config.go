package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// ConfigBuilder helps build test configurations
type ConfigBuilder struct {
	config map[string]interface{}
}

// NewConfigBuilder creates a new configuration builder with defaults
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		config: map[string]interface{}{
			"api_url":      "https://pve.test.example.com:8006",
			"node_name":    "pve1",
			"token_id":     "sync@pam!cert",
			"token_secret": "test-secret-123",
			"cert_dir":     "/certs",
			"log_level":    "INFO",
			"dry_run":      false,
		},
	}
}

// WithAPIURL sets the Proxmox API base URL
func (cb *ConfigBuilder) WithAPIURL(apiURL string) *ConfigBuilder {
	cb.config["api_url"] = apiURL
	return cb
}

// WithNodeName sets the node name
func (cb *ConfigBuilder) WithNodeName(node string) *ConfigBuilder {
	cb.config["node_name"] = node
	return cb
}

// WithToken sets the API token pair
func (cb *ConfigBuilder) WithToken(tokenID, tokenSecret string) *ConfigBuilder {
	cb.config["token_id"] = tokenID
	cb.config["token_secret"] = tokenSecret
	return cb
}

// WithCertDir sets the certificate directory
func (cb *ConfigBuilder) WithCertDir(dir string) *ConfigBuilder {
	cb.config["cert_dir"] = dir
	return cb
}

// WithExpectedHostnames sets the hostnames the certificate must cover
func (cb *ConfigBuilder) WithExpectedHostnames(hostnames ...string) *ConfigBuilder {
	cb.config["expected_hostnames"] = hostnames
	return cb
}

// WithServices sets the services to restart
func (cb *ConfigBuilder) WithServices(services ...string) *ConfigBuilder {
	cb.config["services_to_restart"] = services
	return cb
}

// WithDryRun toggles dry-run mode
func (cb *ConfigBuilder) WithDryRun(dryRun bool) *ConfigBuilder {
	cb.config["dry_run"] = dryRun
	return cb
}

// WithLogLevel sets the log level
func (cb *ConfigBuilder) WithLogLevel(level string) *ConfigBuilder {
	cb.config["log_level"] = level
	return cb
}

// Set sets an arbitrary configuration key
func (cb *ConfigBuilder) Set(key string, value interface{}) *ConfigBuilder {
	cb.config[key] = value
	return cb
}

// Build returns the configuration map
func (cb *ConfigBuilder) Build() map[string]interface{} {
	return cb.config
}

// WriteJSONFile writes the configuration as a JSON config file in dir and
// returns its path.
func (cb *ConfigBuilder) WriteJSONFile(dir string) (string, error) {
	data, err := json.MarshalIndent(cb.config, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", err
	}
	return path, nil
}
