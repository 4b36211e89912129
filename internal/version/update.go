package version

import (
	"fmt"
	"time"

	"github.com/tcnksm/go-latest"
)

// Constants for hardcoded repository information
const (
	GitHubOwner = "proxmox-cert-sync"
	GitHubRepo  = "proxmox-cert-sync"
)

// UpdateInfo contains information about available updates
type UpdateInfo struct {
	CurrentVersion string
	LatestVersion  string
	UpdateURL      string
	IsUpToDate     bool
}

// CheckForUpdates checks if there's a newer version available on GitHub
func CheckForUpdates() (*UpdateInfo, error) {
	githubTag := &latest.GithubTag{
		Owner:      GitHubOwner,
		Repository: GitHubRepo,
	}

	// Get current version info
	current := Get()
	currentVer := current.Version
	if current.GitTag != "" {
		currentVer = current.GitTag
	}

	// Check for updates with timeout
	done := make(chan bool, 1)
	var res *latest.CheckResponse
	var err error

	go func() {
		res, err = latest.Check(githubTag, currentVer)
		done <- true
	}()

	select {
	case <-done:
		if err != nil {
			return nil, fmt.Errorf("failed to check for updates: %v", err)
		}
	case <-time.After(10 * time.Second):
		return nil, fmt.Errorf("update check timed out")
	}

	updateInfo := &UpdateInfo{
		CurrentVersion: currentVer,
		LatestVersion:  res.Current,
		UpdateURL:      res.Meta.URL,
		IsUpToDate:     !res.Outdated,
	}

	return updateInfo, nil
}

// GetUpdateNotification returns a single-line update notification string.
// Returns empty string if up-to-date or the check fails; a sync run must
// never be interrupted by the update check.
func GetUpdateNotification() string {
	updateInfo, err := CheckForUpdates()
	if err != nil {
		return ""
	}

	if updateInfo.IsUpToDate {
		return ""
	}

	return fmt.Sprintf("Update available: %s -> %s - Download: %s",
		updateInfo.CurrentVersion, updateInfo.LatestVersion, updateInfo.UpdateURL)
}
