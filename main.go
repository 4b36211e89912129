package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"proxmox-cert-sync/internal/version"
)

// Constants
const (
	defaultCertDir         = "/certs"
	defaultCertFile        = "tls.crt"
	defaultKeyFile         = "tls.key"
	defaultCAFile          = "ca.crt"
	defaultMinValidityDays = 20
	defaultPollInterval    = 2 * time.Second
	defaultPollTimeout     = 60 * time.Second
	defaultMaxRetries      = 1
	defaultRetryDelay      = 5 * time.Second
	defaultService         = "pveproxy"
)

// Process exit codes are part of the tool's contract with operators.
const (
	exitOK                   = 0
	exitSyncFailed           = 1
	exitConfigInvalid        = 2
	exitValidationFailed     = 3
	exitUnexpectedValidation = 4
)

// Log levels
type LogLevel int

const (
	LOG_ERROR LogLevel = iota
	LOG_WARN
	LOG_INFO
	LOG_DEBUG
)

var (
	currentLogLevel LogLevel = LOG_INFO
	logLevelNames            = map[LogLevel]string{
		LOG_ERROR: "ERROR",
		LOG_WARN:  "WARN",
		LOG_INFO:  "INFO",
		LOG_DEBUG: "DEBUG",
	}
)

// Configuration struct for the application
type Config struct {
	APIURL            string
	NodeName          string
	TokenID           string
	TokenSecret       string
	CertDir           string
	CertFile          string
	KeyFile           string
	CAFile            string
	IncludeCABundle   bool
	VerifyTLS         bool
	CABundlePath      string
	ExpectedHostnames []string
	MinValidityDays   int
	DryRun            bool
	ServicesToRestart []string
	PollTask          bool
	CheckUpdates      bool
	PollInterval      time.Duration
	PollTimeout       time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	LogFile           string
	LogLevel          string
}

// CertificateMaterial holds the PEM material read from disk for one run.
type CertificateMaterial struct {
	CertPEM []byte
	KeyPEM  []byte
	CAPEM   []byte // optional CA bundle, nil when absent
}

// Dependencies struct for dependency injection in main workflow
type Dependencies struct {
	CertValidator    func(certPEM, keyPEM []byte, policy ValidationPolicy) error
	CertUploader     func(ctx context.Context, config Config, certPEM, keyPEM, caPEM []byte) (string, error)
	TaskPoller       func(ctx context.Context, config Config, taskID string) error
	ServiceRestarter func(ctx context.Context, config Config) error
	RemoteVerifier   func(ctx context.Context, config Config)
	Sleep            func(d time.Duration)
}

// errUnexpectedValidation marks validation-phase failures that are not a
// recognized ValidationError; they map to their own exit code.
var errUnexpectedValidation = errors.New("unexpected validation error")

// Parse log level from string
func parseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "ERROR":
		return LOG_ERROR
	case "WARN", "WARNING":
		return LOG_WARN
	case "INFO":
		return LOG_INFO
	case "DEBUG":
		return LOG_DEBUG
	default:
		return LOG_INFO
	}
}

// Logging functions with level control
func logError(format string, args ...interface{}) {
	if currentLogLevel >= LOG_ERROR {
		log.Printf("[ERROR] "+format, args...)
	}
}

func logWarn(format string, args ...interface{}) {
	if currentLogLevel >= LOG_WARN {
		log.Printf("[WARN] "+format, args...)
	}
}

func logInfo(format string, args ...interface{}) {
	if currentLogLevel >= LOG_INFO {
		log.Printf("[INFO] "+format, args...)
	}
}

func logDebug(format string, args ...interface{}) {
	if currentLogLevel >= LOG_DEBUG {
		log.Printf("[DEBUG] "+format, args...)
	}
}

// Set up logging with an optional file destination (owner read/write only)
func setupLogging(logFile, logLevel string) {
	currentLogLevel = parseLogLevel(logLevel)
	log.SetFlags(log.Ldate | log.Ltime)

	if logFile == "" {
		log.SetOutput(os.Stdout)
		return
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		fmt.Printf("Error opening log file: %v\n", err)
		return
	}

	// Log to both file and stdout
	multiWriter := io.MultiWriter(os.Stdout, file)
	log.SetOutput(multiWriter)

	logInfo("Logging to %s with level %s", logFile, logLevelNames[currentLogLevel])
}

// GetDefaultDependencies returns the default dependencies for production use
func GetDefaultDependencies() Dependencies {
	return Dependencies{
		CertValidator: ValidateCertificatePair,
		CertUploader: func(ctx context.Context, config Config, certPEM, keyPEM, caPEM []byte) (string, error) {
			client, err := NewProxmoxClient(config)
			if err != nil {
				return "", err
			}
			return client.UploadCertificate(ctx, certPEM, keyPEM, caPEM, config.IncludeCABundle)
		},
		TaskPoller: func(ctx context.Context, config Config, taskID string) error {
			client, err := NewProxmoxClient(config)
			if err != nil {
				return err
			}
			return client.PollTask(ctx, taskID, config.PollInterval, config.PollTimeout)
		},
		ServiceRestarter: func(ctx context.Context, config Config) error {
			client, err := NewProxmoxClient(config)
			if err != nil {
				return err
			}
			return client.RestartServices(ctx, config.ServicesToRestart)
		},
		RemoteVerifier: func(ctx context.Context, config Config) {
			client, err := NewProxmoxClient(config)
			if err != nil {
				logWarn("Unable to verify remote certificate: %v", err)
				return
			}
			state, err := client.VerifyRemoteCertificate(ctx)
			if err != nil {
				logWarn("Unable to verify remote certificate: %v", err)
				return
			}
			logInfo("Remote certificate state: fingerprint=%s not_after=%d", state.Fingerprint, state.NotAfter)
		},
		Sleep: time.Sleep,
	}
}

// loadCertificateMaterial reads the certificate, key, and optional CA bundle
// from the configured certificate directory.
func loadCertificateMaterial(config Config) (*CertificateMaterial, error) {
	certPath := filepath.Join(config.CertDir, config.CertFile)
	keyPath := filepath.Join(config.CertDir, config.KeyFile)
	caPath := filepath.Join(config.CertDir, config.CAFile)

	certPEM, err := readRequiredFile(certPath)
	if err != nil {
		return nil, err
	}
	keyPEM, err := readRequiredFile(keyPath)
	if err != nil {
		return nil, err
	}

	var caPEM []byte
	if _, err := os.Stat(caPath); err == nil {
		caPEM, err = os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		logDebug("Loaded CA bundle from %s (%d bytes)", caPath, len(caPEM))
	}

	return &CertificateMaterial{CertPEM: certPEM, KeyPEM: keyPEM, CAPEM: caPEM}, nil
}

func readRequiredFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ValidationError{Reason: ErrMissingFile, Detail: path}
		}
		return nil, err
	}
	return data, nil
}

// linearBackOff waits retryDelay * attemptNumber between sync attempts.
type linearBackOff struct {
	delay   time.Duration
	attempt int
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.delay * time.Duration(b.attempt)
}

// runWorkflow executes the certificate sync workflow with dependency injection
func runWorkflow(config Config, deps Dependencies) error {
	// Log version information
	v := version.Get()
	logInfo("Starting %s", v.String())

	// Check for updates and display notification (opt-in; keeps validation
	// and dry runs free of network calls by default)
	if config.CheckUpdates {
		if updateMsg := version.GetUpdateNotification(); updateMsg != "" {
			logInfo(updateMsg)
		}
	}

	material, err := loadCertificateMaterial(config)
	if err != nil {
		return reportValidationFailure(err)
	}

	policy := ValidationPolicy{
		ExpectedHostnames: config.ExpectedHostnames,
		MinValidityDays:   config.MinValidityDays,
	}
	if err := deps.CertValidator(material.CertPEM, material.KeyPEM, policy); err != nil {
		return reportValidationFailure(err)
	}
	logInfo("Certificate validation succeeded")

	// If dry run, stop after validation with no network calls
	if config.DryRun {
		logInfo("Dry run complete; skipping upload")
		return nil
	}

	// The whole post-validation sequence retries as one unit; validation
	// failures are deterministic and never retried.
	retries := backoff.WithMaxRetries(&linearBackOff{delay: config.RetryDelay}, uint64(config.MaxRetries))
	attempt := 0
	for {
		attempt++
		err := syncOnce(context.Background(), config, deps, material, attempt)
		if err == nil {
			return nil
		}
		logError("Sync attempt %d failed: %v", attempt, err)

		next := retries.NextBackOff()
		if next == backoff.Stop {
			return err
		}
		logInfo("Retrying in %s", next)
		deps.Sleep(next)
	}
}

// syncOnce performs one full upload/poll/restart/verify pass.
func syncOnce(ctx context.Context, config Config, deps Dependencies, material *CertificateMaterial, attempt int) error {
	logInfo("Starting sync attempt %d for node %s", attempt, config.NodeName)

	taskID, err := deps.CertUploader(ctx, config, material.CertPEM, material.KeyPEM, material.CAPEM)
	if err != nil {
		return err
	}

	if taskID != "" && config.PollTask {
		if err := deps.TaskPoller(ctx, config, taskID); err != nil {
			return err
		}
	}

	if err := deps.ServiceRestarter(ctx, config); err != nil {
		return err
	}

	// Best effort only; a verification failure must not undo a successful sync.
	deps.RemoteVerifier(ctx, config)

	logInfo("Certificate sync completed")
	return nil
}

// reportValidationFailure logs a validation-phase error and tags anything
// that is not a recognized ValidationError as unexpected.
func reportValidationFailure(err error) error {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		logError("Validation failure: %v", err)
		return err
	}
	logError("Unexpected validation error: %v", err)
	return fmt.Errorf("%w: %v", errUnexpectedValidation, err)
}

// exitCodeForError maps a workflow error to the process exit code.
func exitCodeForError(err error) int {
	if err == nil {
		return exitOK
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return exitConfigInvalid
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return exitValidationFailed
	}
	if errors.Is(err, errUnexpectedValidation) {
		return exitUnexpectedValidation
	}
	return exitSyncFailed
}

// Main function
func main() {
	// Parse the command-line arguments, environment, and optional config file
	config, err := parseArgs()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(exitOK)
		}
		logError("Configuration error: %v", err)
		os.Exit(exitConfigInvalid)
	}

	// Set up logging
	setupLogging(config.LogFile, config.LogLevel)

	// Run the main workflow with default dependencies
	deps := GetDefaultDependencies()
	if err := runWorkflow(config, deps); err != nil {
		os.Exit(exitCodeForError(err))
	}
}
