package main

import (
	"errors"
	"flag"
	"testing"
	"time"

	"proxmox-cert-sync/testutil"
)

// baseArgs supplies the four required settings so individual tests only add
// the flags they care about.
func baseArgs(extra ...string) []string {
	args := []string{
		"--api-url", "https://pve.example.com:8006",
		"--node", "pve1",
		"--token-id", "sync@pam!cert",
		"--token-secret", "s3cret",
	}
	return append(args, extra...)
}

func TestParseArgsFrom_RequiredFlags(t *testing.T) {
	config, err := parseArgsFrom(baseArgs())
	if err != nil {
		t.Fatalf("parseArgsFrom failed: %v", err)
	}

	if config.APIURL != "https://pve.example.com:8006" {
		t.Errorf("APIURL = %q", config.APIURL)
	}
	if config.NodeName != "pve1" {
		t.Errorf("NodeName = %q", config.NodeName)
	}
	if config.TokenID != "sync@pam!cert" {
		t.Errorf("TokenID = %q", config.TokenID)
	}
	if config.CertDir != defaultCertDir {
		t.Errorf("CertDir = %q, expected the default", config.CertDir)
	}
	if config.MinValidityDays != defaultMinValidityDays {
		t.Errorf("MinValidityDays = %d", config.MinValidityDays)
	}
	if !config.PollTask {
		t.Error("Expected task polling enabled by default")
	}
	if config.DryRun {
		t.Error("Expected dry-run disabled by default")
	}
}

func TestParseArgsFrom_AllFlags(t *testing.T) {
	config, err := parseArgsFrom(baseArgs(
		"--cert-dir", "/opt/certs",
		"--cert-file", "server.crt",
		"--key-file", "server.key",
		"--ca-file", "chain.crt",
		"--include-ca-bundle=false",
		"--insecure",
		"--expected-hostnames", "pve.example.com,*.lab.example.com",
		"--min-validity-days", "45",
		"--dry-run",
		"--services", "pveproxy,pvedaemon",
		"--poll-interval", "3",
		"--poll-timeout", "90",
		"--max-retries", "4",
		"--retry-delay", "10",
		"--check-updates",
		"--log-level", "DEBUG",
	))
	if err != nil {
		t.Fatalf("parseArgsFrom failed: %v", err)
	}

	if config.CertDir != "/opt/certs" || config.CertFile != "server.crt" ||
		config.KeyFile != "server.key" || config.CAFile != "chain.crt" {
		t.Errorf("Certificate paths not applied: %+v", config)
	}
	if config.IncludeCABundle {
		t.Error("Expected include_ca_bundle false")
	}
	if config.VerifyTLS {
		t.Error("--insecure should disable TLS verification")
	}
	if len(config.ExpectedHostnames) != 2 || config.ExpectedHostnames[1] != "*.lab.example.com" {
		t.Errorf("ExpectedHostnames = %v", config.ExpectedHostnames)
	}
	if config.MinValidityDays != 45 {
		t.Errorf("MinValidityDays = %d", config.MinValidityDays)
	}
	if !config.DryRun {
		t.Error("Expected dry-run enabled")
	}
	if len(config.ServicesToRestart) != 2 {
		t.Errorf("ServicesToRestart = %v", config.ServicesToRestart)
	}
	if config.PollInterval != 3*time.Second || config.PollTimeout != 90*time.Second {
		t.Errorf("Poll settings = %s / %s", config.PollInterval, config.PollTimeout)
	}
	if config.MaxRetries != 4 || config.RetryDelay != 10*time.Second {
		t.Errorf("Retry settings = %d / %s", config.MaxRetries, config.RetryDelay)
	}
	if config.LogLevel != "DEBUG" {
		t.Errorf("LogLevel = %q", config.LogLevel)
	}
	if !config.CheckUpdates {
		t.Error("Expected update check enabled")
	}
}

func TestParseArgsFrom_UpdateCheckDisabledByDefault(t *testing.T) {
	config, err := parseArgsFrom(baseArgs())
	if err != nil {
		t.Fatalf("parseArgsFrom failed: %v", err)
	}
	if config.CheckUpdates {
		t.Error("Expected update check disabled by default")
	}
}

func TestParseArgsFrom_HelpRequested(t *testing.T) {
	_, err := parseArgsFrom([]string{"-help"})
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("Expected flag.ErrHelp, got: %v", err)
	}
}

func TestParseArgsFrom_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("PROXMOX_NODE_NAME", "pve-env")
	t.Setenv("MIN_VALIDITY_DAYS", "10")

	config, err := parseArgsFrom(baseArgs("--min-validity-days", "60"))
	if err != nil {
		t.Fatalf("parseArgsFrom failed: %v", err)
	}

	if config.NodeName != "pve1" {
		t.Errorf("Flag should override environment, got node %q", config.NodeName)
	}
	if config.MinValidityDays != 60 {
		t.Errorf("MinValidityDays = %d, expected the flag value", config.MinValidityDays)
	}
}

func TestParseArgsFrom_EnvironmentOnly(t *testing.T) {
	t.Setenv("PROXMOX_API_URL", "https://pve.env.example.com:8006")
	t.Setenv("PROXMOX_NODE_NAME", "pve-env")
	t.Setenv("PROXMOX_TOKEN_ID", "env@pam!cert")
	t.Setenv("PROXMOX_TOKEN_SECRET", "env-secret")

	config, err := parseArgsFrom(nil)
	if err != nil {
		t.Fatalf("parseArgsFrom failed: %v", err)
	}
	if config.APIURL != "https://pve.env.example.com:8006" {
		t.Errorf("APIURL = %q", config.APIURL)
	}
	if len(config.ExpectedHostnames) != 1 || config.ExpectedHostnames[0] != "pve.env.example.com" {
		t.Errorf("ExpectedHostnames = %v, expected the API hostname fallback", config.ExpectedHostnames)
	}
}

func TestParseArgsFrom_ConfigFileFlag(t *testing.T) {
	path, err := testutil.NewConfigBuilder().
		WithAPIURL("https://pve.file.example.com:8006").
		WithNodeName("pve-file").
		WithToken("file@pam!cert", "file-secret").
		Set("min_validity_days", 15).
		WriteJSONFile(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	config, err := parseArgsFrom([]string{"--config", path, "--min-validity-days", "25"})
	if err != nil {
		t.Fatalf("parseArgsFrom failed: %v", err)
	}
	if config.NodeName != "pve-file" {
		t.Errorf("NodeName = %q", config.NodeName)
	}
	if config.MinValidityDays != 25 {
		t.Errorf("Flag should override config file, got %d", config.MinValidityDays)
	}
}

func TestParseArgsFrom_MissingRequired(t *testing.T) {
	config, err := parseArgsFrom([]string{"--api-url", "https://pve.example.com:8006"})
	if err == nil {
		t.Fatal("Expected an error for missing required settings")
	}
	var configErr *ConfigError
	if !errors.As(err, &configErr) {
		t.Errorf("Expected *ConfigError, got %T", err)
	}
	_ = config
}

func TestParseArgsFrom_UnknownFlag(t *testing.T) {
	if _, err := parseArgsFrom([]string{"--no-such-flag"}); err == nil {
		t.Fatal("Expected an error for an unknown flag")
	}
}
