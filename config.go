package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigError means the configuration is invalid; the process exits before
// any I/O happens.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

func configErrorf(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// ConfigSource represents the source of a configuration value
type ConfigSource string

const (
	ConfigSourceDefault    ConfigSource = "default"
	ConfigSourceConfigFile ConfigSource = "config_file"
	ConfigSourceEnvVar     ConfigSource = "environment"
	ConfigSourceFlag       ConfigSource = "command_line"
)

// ConfigValue holds a configuration value with its source
type ConfigValue struct {
	Value  interface{}
	Source ConfigSource
}

// ConfigManager handles configuration from multiple sources
type ConfigManager struct {
	values map[string]ConfigValue
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		values: make(map[string]ConfigValue),
	}
}

// Set sets a configuration value with its source
func (cm *ConfigManager) Set(key string, value interface{}, source ConfigSource) {
	cm.values[key] = ConfigValue{Value: value, Source: source}
}

// Get gets a configuration value
func (cm *ConfigManager) Get(key string) (interface{}, bool) {
	if val, exists := cm.values[key]; exists {
		return val.Value, true
	}
	return nil, false
}

// GetString gets a string configuration value
func (cm *ConfigManager) GetString(key string) string {
	if val, exists := cm.Get(key); exists {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetBool gets a boolean configuration value
func (cm *ConfigManager) GetBool(key string) bool {
	if val, exists := cm.Get(key); exists {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}

// GetInt gets an int configuration value
func (cm *ConfigManager) GetInt(key string) int {
	if val, exists := cm.Get(key); exists {
		if i, ok := val.(int); ok {
			return i
		}
	}
	return 0
}

// GetStringSlice gets a string-slice configuration value
func (cm *ConfigManager) GetStringSlice(key string) []string {
	if val, exists := cm.Get(key); exists {
		if s, ok := val.([]string); ok {
			return s
		}
	}
	return nil
}

// GetSource gets the source of a configuration value
func (cm *ConfigManager) GetSource(key string) ConfigSource {
	if val, exists := cm.values[key]; exists {
		return val.Source
	}
	return ConfigSourceDefault
}

// LoadDefaults loads default configuration values
func (cm *ConfigManager) LoadDefaults() {
	cm.Set("cert_dir", defaultCertDir, ConfigSourceDefault)
	cm.Set("cert_file", defaultCertFile, ConfigSourceDefault)
	cm.Set("key_file", defaultKeyFile, ConfigSourceDefault)
	cm.Set("ca_file", defaultCAFile, ConfigSourceDefault)
	cm.Set("include_ca_bundle", true, ConfigSourceDefault)
	cm.Set("verify_tls", true, ConfigSourceDefault)
	cm.Set("min_validity_days", defaultMinValidityDays, ConfigSourceDefault)
	cm.Set("dry_run", false, ConfigSourceDefault)
	cm.Set("services_to_restart", []string{defaultService}, ConfigSourceDefault)
	cm.Set("poll_task", true, ConfigSourceDefault)
	cm.Set("check_updates", false, ConfigSourceDefault)
	cm.Set("poll_interval_seconds", int(defaultPollInterval/time.Second), ConfigSourceDefault)
	cm.Set("poll_timeout_seconds", int(defaultPollTimeout/time.Second), ConfigSourceDefault)
	cm.Set("max_retries", defaultMaxRetries, ConfigSourceDefault)
	cm.Set("retry_delay_seconds", int(defaultRetryDelay/time.Second), ConfigSourceDefault)
	cm.Set("log_level", "INFO", ConfigSourceDefault)
}

// splitAndTrim turns a comma-separated value into a slice, dropping empties.
func splitAndTrim(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// LoadEnvironmentVariables loads configuration from environment variables
func (cm *ConfigManager) LoadEnvironmentVariables() {
	envMappings := map[string]string{
		"api_url":               "PROXMOX_API_URL",
		"node_name":             "PROXMOX_NODE_NAME",
		"token_id":              "PROXMOX_TOKEN_ID",
		"token_secret":          "PROXMOX_TOKEN_SECRET",
		"cert_dir":              "CERTIFICATE_DIRECTORY",
		"cert_file":             "TLS_CERT_KEY",
		"key_file":              "TLS_KEY_KEY",
		"ca_file":               "TLS_CA_KEY",
		"include_ca_bundle":     "INCLUDE_CA_BUNDLE",
		"verify_tls":            "VERIFY_TLS",
		"ca_bundle_path":        "CA_BUNDLE_PATH",
		"expected_hostnames":    "EXPECTED_HOSTNAMES",
		"min_validity_days":     "MIN_VALIDITY_DAYS",
		"dry_run":               "DRY_RUN",
		"services_to_restart":   "SERVICES_TO_RESTART",
		"poll_task":             "POLL_TASK",
		"check_updates":         "CHECK_UPDATES",
		"poll_interval_seconds": "POLL_INTERVAL_SECONDS",
		"poll_timeout_seconds":  "POLL_TIMEOUT_SECONDS",
		"max_retries":           "MAX_RETRIES",
		"retry_delay_seconds":   "RETRY_DELAY_SECONDS",
		"log_file":              "LOG_FILE",
		"log_level":             "LOG_LEVEL",
	}

	for configKey, envVar := range envMappings {
		value := os.Getenv(envVar)
		if value == "" {
			continue
		}
		// Type conversion based on the configuration key
		switch configKey {
		case "min_validity_days", "poll_interval_seconds", "poll_timeout_seconds",
			"max_retries", "retry_delay_seconds":
			if i, err := strconv.Atoi(value); err == nil {
				cm.Set(configKey, i, ConfigSourceEnvVar)
			}
		case "include_ca_bundle", "verify_tls", "dry_run", "poll_task", "check_updates":
			if b, err := strconv.ParseBool(value); err == nil {
				cm.Set(configKey, b, ConfigSourceEnvVar)
			}
		case "expected_hostnames", "services_to_restart":
			if list := splitAndTrim(value); len(list) > 0 {
				cm.Set(configKey, list, ConfigSourceEnvVar)
			}
		default:
			cm.Set(configKey, value, ConfigSourceEnvVar)
		}
	}
}

// ConfigFile represents the structure of a configuration file. Booleans and
// retry counts are pointers so an absent field does not clobber a default.
type ConfigFile struct {
	APIURL            string   `json:"api_url,omitempty" yaml:"api_url"`
	NodeName          string   `json:"node_name,omitempty" yaml:"node_name"`
	TokenID           string   `json:"token_id,omitempty" yaml:"token_id"`
	TokenSecret       string   `json:"token_secret,omitempty" yaml:"token_secret"`
	CertDir           string   `json:"cert_dir,omitempty" yaml:"cert_dir"`
	CertFile          string   `json:"cert_file,omitempty" yaml:"cert_file"`
	KeyFile           string   `json:"key_file,omitempty" yaml:"key_file"`
	CAFile            string   `json:"ca_file,omitempty" yaml:"ca_file"`
	IncludeCABundle   *bool    `json:"include_ca_bundle,omitempty" yaml:"include_ca_bundle"`
	VerifyTLS         *bool    `json:"verify_tls,omitempty" yaml:"verify_tls"`
	CABundlePath      string   `json:"ca_bundle_path,omitempty" yaml:"ca_bundle_path"`
	ExpectedHostnames []string `json:"expected_hostnames,omitempty" yaml:"expected_hostnames"`
	MinValidityDays   int      `json:"min_validity_days,omitempty" yaml:"min_validity_days"`
	DryRun            *bool    `json:"dry_run,omitempty" yaml:"dry_run"`
	ServicesToRestart []string `json:"services_to_restart,omitempty" yaml:"services_to_restart"`
	PollTask          *bool    `json:"poll_task,omitempty" yaml:"poll_task"`
	CheckUpdates      *bool    `json:"check_updates,omitempty" yaml:"check_updates"`
	PollInterval      int      `json:"poll_interval_seconds,omitempty" yaml:"poll_interval_seconds"`
	PollTimeout       int      `json:"poll_timeout_seconds,omitempty" yaml:"poll_timeout_seconds"`
	MaxRetries        *int     `json:"max_retries,omitempty" yaml:"max_retries"`
	RetryDelay        int      `json:"retry_delay_seconds,omitempty" yaml:"retry_delay_seconds"`
	LogFile           string   `json:"log_file,omitempty" yaml:"log_file"`
	LogLevel          string   `json:"log_level,omitempty" yaml:"log_level"`
}

// LoadConfigFile loads configuration from a JSON or YAML file, picked by
// extension.
func (cm *ConfigManager) LoadConfigFile(filePath string) error {
	if filePath == "" {
		return nil // No config file specified
	}

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil // Config file doesn't exist, not an error
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %v", filePath, err)
	}

	var configFile ConfigFile
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &configFile)
	default:
		err = json.Unmarshal(data, &configFile)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %v", filePath, err)
	}

	setString := func(key, value string) {
		if value != "" {
			cm.Set(key, value, ConfigSourceConfigFile)
		}
	}
	setInt := func(key string, value int) {
		if value != 0 {
			cm.Set(key, value, ConfigSourceConfigFile)
		}
	}
	setBool := func(key string, value *bool) {
		if value != nil {
			cm.Set(key, *value, ConfigSourceConfigFile)
		}
	}

	setString("api_url", configFile.APIURL)
	setString("node_name", configFile.NodeName)
	setString("token_id", configFile.TokenID)
	setString("token_secret", configFile.TokenSecret)
	setString("cert_dir", configFile.CertDir)
	setString("cert_file", configFile.CertFile)
	setString("key_file", configFile.KeyFile)
	setString("ca_file", configFile.CAFile)
	setString("ca_bundle_path", configFile.CABundlePath)
	setString("log_file", configFile.LogFile)
	setString("log_level", configFile.LogLevel)

	setInt("min_validity_days", configFile.MinValidityDays)
	setInt("poll_interval_seconds", configFile.PollInterval)
	setInt("poll_timeout_seconds", configFile.PollTimeout)
	setInt("retry_delay_seconds", configFile.RetryDelay)
	if configFile.MaxRetries != nil {
		cm.Set("max_retries", *configFile.MaxRetries, ConfigSourceConfigFile)
	}

	setBool("include_ca_bundle", configFile.IncludeCABundle)
	setBool("verify_tls", configFile.VerifyTLS)
	setBool("dry_run", configFile.DryRun)
	setBool("poll_task", configFile.PollTask)
	setBool("check_updates", configFile.CheckUpdates)

	if len(configFile.ExpectedHostnames) > 0 {
		cm.Set("expected_hostnames", configFile.ExpectedHostnames, ConfigSourceConfigFile)
	}
	if len(configFile.ServicesToRestart) > 0 {
		cm.Set("services_to_restart", configFile.ServicesToRestart, ConfigSourceConfigFile)
	}

	logDebug("Loaded configuration from file: %s", filePath)
	return nil
}

// BuildConfig builds the final Config struct from the configuration manager
func (cm *ConfigManager) BuildConfig() Config {
	config := Config{
		APIURL:            strings.TrimRight(cm.GetString("api_url"), "/"),
		NodeName:          cm.GetString("node_name"),
		TokenID:           cm.GetString("token_id"),
		TokenSecret:       cm.GetString("token_secret"),
		CertDir:           cm.GetString("cert_dir"),
		CertFile:          cm.GetString("cert_file"),
		KeyFile:           cm.GetString("key_file"),
		CAFile:            cm.GetString("ca_file"),
		IncludeCABundle:   cm.GetBool("include_ca_bundle"),
		VerifyTLS:         cm.GetBool("verify_tls"),
		CABundlePath:      cm.GetString("ca_bundle_path"),
		ExpectedHostnames: cm.GetStringSlice("expected_hostnames"),
		MinValidityDays:   cm.GetInt("min_validity_days"),
		DryRun:            cm.GetBool("dry_run"),
		ServicesToRestart: cm.GetStringSlice("services_to_restart"),
		PollTask:          cm.GetBool("poll_task"),
		CheckUpdates:      cm.GetBool("check_updates"),
		PollInterval:      time.Duration(cm.GetInt("poll_interval_seconds")) * time.Second,
		PollTimeout:       time.Duration(cm.GetInt("poll_timeout_seconds")) * time.Second,
		MaxRetries:        cm.GetInt("max_retries"),
		RetryDelay:        time.Duration(cm.GetInt("retry_delay_seconds")) * time.Second,
		LogFile:           cm.GetString("log_file"),
		LogLevel:          cm.GetString("log_level"),
	}

	// Fall back to the API URL's hostname as the expected certificate name
	if len(config.ExpectedHostnames) == 0 && config.APIURL != "" {
		if parsed, err := url.Parse(config.APIURL); err == nil && parsed.Hostname() != "" {
			config.ExpectedHostnames = []string{parsed.Hostname()}
		}
	}

	return config
}

// ValidateConfig validates the final configuration
func (cm *ConfigManager) ValidateConfig(config Config) error {
	// Required fields validation
	if config.APIURL == "" {
		return configErrorf("PROXMOX_API_URL is required")
	}
	if config.NodeName == "" {
		return configErrorf("PROXMOX_NODE_NAME is required")
	}
	if config.TokenID == "" {
		return configErrorf("PROXMOX_TOKEN_ID is required")
	}
	if config.TokenSecret == "" {
		return configErrorf("PROXMOX_TOKEN_SECRET is required")
	}

	parsed, err := url.Parse(config.APIURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return configErrorf("invalid API URL %q", config.APIURL)
	}

	if config.MinValidityDays <= 0 {
		return configErrorf("invalid minimum validity %d, must be a positive number of days", config.MinValidityDays)
	}
	if config.PollInterval <= 0 {
		return configErrorf("invalid poll interval %s, must be positive", config.PollInterval)
	}
	if config.PollTimeout <= 0 {
		return configErrorf("invalid poll timeout %s, must be positive", config.PollTimeout)
	}
	if config.MaxRetries < 0 {
		return configErrorf("invalid retry count %d, must be zero or more", config.MaxRetries)
	}
	if config.RetryDelay <= 0 {
		return configErrorf("invalid retry delay %s, must be positive", config.RetryDelay)
	}
	if len(config.ServicesToRestart) == 0 {
		return configErrorf("at least one service to restart is required")
	}

	// Validate log level
	validLogLevels := []string{"ERROR", "WARN", "WARNING", "INFO", "DEBUG"}
	isValidLogLevel := false
	upperLogLevel := strings.ToUpper(config.LogLevel)
	for _, level := range validLogLevels {
		if upperLogLevel == level {
			isValidLogLevel = true
			break
		}
	}
	if !isValidLogLevel {
		return configErrorf("invalid log level %s, must be one of: %s", config.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// PrintConfigSources prints the sources of all configuration values (for debugging)
func (cm *ConfigManager) PrintConfigSources() {
	logDebug("Configuration sources:")
	for key, value := range cm.values {
		if key == "token_secret" {
			logDebug("  %s: **** (from %s)", key, cm.GetSource(key))
			continue
		}
		logDebug("  %s: %v (from %s)", key, value.Value, value.Source)
	}
}
