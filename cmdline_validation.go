package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// Parse command-line arguments and return a Config using structured configuration management
func parseArgs() (Config, error) {
	return parseArgsFrom(os.Args[1:])
}

func parseArgsFrom(args []string) (Config, error) {
	// Create configuration manager
	cm := NewConfigManager()

	// Load configuration in order of precedence (lowest to highest)
	cm.LoadDefaults()

	fs := flag.NewFlagSet("proxmox-cert-sync", flag.ContinueOnError)
	fs.Usage = func() { printHelp(fs) }

	// Define command-line flags
	var (
		configFile        = fs.String("config", "", "Path to JSON or YAML configuration file")
		apiURL            = fs.String("api-url", "", "Proxmox API base URL (e.g. https://pve.example.com:8006)")
		nodeName          = fs.String("node", "", "Proxmox node name")
		tokenID           = fs.String("token-id", "", "Proxmox API token id (user@realm!name)")
		tokenSecret       = fs.String("token-secret", "", "Proxmox API token secret")
		certDir           = fs.String("cert-dir", "", "Directory holding the certificate material")
		certFile          = fs.String("cert-file", "", "Certificate filename inside the certificate directory")
		keyFile           = fs.String("key-file", "", "Private key filename inside the certificate directory")
		caFile            = fs.String("ca-file", "", "CA bundle filename inside the certificate directory")
		includeCABundle   = fs.Bool("include-ca-bundle", true, "Append the CA bundle to the uploaded certificate")
		insecure          = fs.Bool("insecure", false, "Skip TLS verification of the Proxmox API")
		caBundlePath      = fs.String("ca-bundle", "", "CA bundle used to verify the Proxmox API's own TLS certificate")
		expectedHostnames = fs.String("expected-hostnames", "", "Comma-separated hostnames the certificate must cover (defaults to the API URL's hostname)")
		minValidityDays   = fs.Int("min-validity-days", 0, "Minimum remaining certificate validity in days")
		dryRun            = fs.Bool("dry-run", false, "Validate the certificate without uploading")
		services          = fs.String("services", "", "Comma-separated node services to restart after install")
		pollTask          = fs.Bool("poll-task", true, "Poll the upload task until it finishes")
		checkUpdates      = fs.Bool("check-updates", false, "Check GitHub for a newer release at startup")
		pollInterval      = fs.Int("poll-interval", 0, "Task poll interval in seconds")
		pollTimeout       = fs.Int("poll-timeout", 0, "Task poll timeout in seconds")
		maxRetries        = fs.Int("max-retries", -1, "Extra sync attempts after the first failure")
		retryDelay        = fs.Int("retry-delay", 0, "Base delay between sync attempts in seconds")
		logFile           = fs.String("log", "", "Path to log file (stdout only when empty)")
		logLevel          = fs.String("log-level", "", "Log level (ERROR, WARN, INFO, DEBUG)")
	)

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// Load configuration file if specified
	if err := cm.LoadConfigFile(*configFile); err != nil {
		return Config{}, fmt.Errorf("failed to load config file: %v", err)
	}

	// Load environment variables
	cm.LoadEnvironmentVariables()

	// Override with flags the user actually set (highest precedence)
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "api-url":
			cm.Set("api_url", *apiURL, ConfigSourceFlag)
		case "node":
			cm.Set("node_name", *nodeName, ConfigSourceFlag)
		case "token-id":
			cm.Set("token_id", *tokenID, ConfigSourceFlag)
		case "token-secret":
			cm.Set("token_secret", *tokenSecret, ConfigSourceFlag)
		case "cert-dir":
			cm.Set("cert_dir", *certDir, ConfigSourceFlag)
		case "cert-file":
			cm.Set("cert_file", *certFile, ConfigSourceFlag)
		case "key-file":
			cm.Set("key_file", *keyFile, ConfigSourceFlag)
		case "ca-file":
			cm.Set("ca_file", *caFile, ConfigSourceFlag)
		case "include-ca-bundle":
			cm.Set("include_ca_bundle", *includeCABundle, ConfigSourceFlag)
		case "insecure":
			cm.Set("verify_tls", !*insecure, ConfigSourceFlag)
		case "ca-bundle":
			cm.Set("ca_bundle_path", *caBundlePath, ConfigSourceFlag)
		case "expected-hostnames":
			cm.Set("expected_hostnames", splitAndTrim(*expectedHostnames), ConfigSourceFlag)
		case "min-validity-days":
			cm.Set("min_validity_days", *minValidityDays, ConfigSourceFlag)
		case "dry-run":
			cm.Set("dry_run", *dryRun, ConfigSourceFlag)
		case "services":
			cm.Set("services_to_restart", splitAndTrim(*services), ConfigSourceFlag)
		case "poll-task":
			cm.Set("poll_task", *pollTask, ConfigSourceFlag)
		case "check-updates":
			cm.Set("check_updates", *checkUpdates, ConfigSourceFlag)
		case "poll-interval":
			cm.Set("poll_interval_seconds", *pollInterval, ConfigSourceFlag)
		case "poll-timeout":
			cm.Set("poll_timeout_seconds", *pollTimeout, ConfigSourceFlag)
		case "max-retries":
			cm.Set("max_retries", *maxRetries, ConfigSourceFlag)
		case "retry-delay":
			cm.Set("retry_delay_seconds", *retryDelay, ConfigSourceFlag)
		case "log":
			cm.Set("log_file", *logFile, ConfigSourceFlag)
		case "log-level":
			cm.Set("log_level", *logLevel, ConfigSourceFlag)
		}
	})

	// Build final configuration
	config := cm.BuildConfig()

	// Validate configuration
	if err := cm.ValidateConfig(config); err != nil {
		return config, err
	}

	// Print configuration sources in debug mode
	if strings.ToUpper(config.LogLevel) == "DEBUG" {
		cm.PrintConfigSources()
	}

	return config, nil
}

// Print help and usage examples
func printHelp(fs *flag.FlagSet) {
	fmt.Println("Proxmox Certificate Sync")
	fmt.Println("========================")
	fmt.Println("This tool validates a local TLS certificate/key pair and installs it on a Proxmox VE node.")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Printf("  %s [options]\n", os.Args[0])
	fmt.Println("")
	fmt.Println("Options:")
	fs.PrintDefaults()
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Printf("  # Validate the certificate only\n")
	fmt.Printf("  %s --api-url https://pve.example.com:8006 --node pve1 \\\n", os.Args[0])
	fmt.Printf("    --token-id sync@pam!cert --token-secret xxxxxxxx --dry-run\n")
	fmt.Println("")
	fmt.Printf("  # Using a configuration file\n")
	fmt.Printf("  %s --config /etc/proxmox-cert-sync/config.yaml\n", os.Args[0])
	fmt.Println("")
	fmt.Printf("  # Full sync with a custom certificate directory and services\n")
	fmt.Printf("  %s --api-url https://pve.example.com:8006 --node pve1 \\\n", os.Args[0])
	fmt.Printf("    --token-id sync@pam!cert --token-secret xxxxxxxx \\\n")
	fmt.Printf("    --cert-dir /certs --services pveproxy,pvedaemon\n")
	fmt.Println("")
	fmt.Printf("Configuration precedence (highest to lowest): command-line flags > environment variables > config file > defaults\n")
	fmt.Printf("All options can also be supplied via environment variables (PROXMOX_API_URL, PROXMOX_NODE_NAME,\n")
	fmt.Printf("PROXMOX_TOKEN_ID, PROXMOX_TOKEN_SECRET, CERTIFICATE_DIRECTORY, EXPECTED_HOSTNAMES, ...),\n")
	fmt.Printf("which is the recommended way to pass credentials in containerized deployments.\n")
	fmt.Println("")
	fmt.Printf("  Example config.yaml:\n")
	fmt.Printf("    api_url: https://pve.example.com:8006\n")
	fmt.Printf("    node_name: pve1\n")
	fmt.Printf("    token_id: sync@pam!cert\n")
	fmt.Printf("    token_secret: xxxxxxxx\n")
	fmt.Printf("    services_to_restart: [pveproxy]\n")
	fmt.Printf("    min_validity_days: 20\n")
}
