package version

import (
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()

	if info == nil {
		t.Fatal("Get() returned nil")
	}

	if info.Version == "" {
		t.Error("Version should not be empty")
	}

	if info.GoVersion == "" {
		t.Error("GoVersion should not be empty")
	}

	if info.Compiler == "" {
		t.Error("Compiler should not be empty")
	}

	if info.Platform == "" {
		t.Error("Platform should not be empty")
	}

	if !strings.Contains(info.Platform, "/") {
		t.Errorf("Platform should contain '/', got: %s", info.Platform)
	}
}

func TestVersionInfo_String(t *testing.T) {
	tests := []struct {
		name     string
		version  VersionInfo
		expected string
	}{
		{
			name: "with git tag",
			version: VersionInfo{
				Version:   "v1.0.0",
				GitCommit: "abcd1234567890",
				GitTag:    "v1.0.0",
			},
			expected: "v1.0.0 (abcd1234)",
		},
		{
			name: "with version no tag",
			version: VersionInfo{
				Version:   "v1.0.0",
				GitCommit: "abcd1234567890",
				GitTag:    "",
			},
			expected: "v1.0.0 (abcd1234)",
		},
		{
			name: "development version",
			version: VersionInfo{
				Version:   "development",
				GitCommit: "abcd1234567890",
				GitTag:    "",
			},
			expected: "development (abcd1234)",
		},
		{
			name: "short commit",
			version: VersionInfo{
				Version:   "v1.0.0",
				GitCommit: "abc123",
				GitTag:    "",
			},
			expected: "v1.0.0 (abc123)",
		},
		{
			name: "no commit",
			version: VersionInfo{
				Version:   "v1.0.0",
				GitCommit: "",
				GitTag:    "",
			},
			expected: "v1.0.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.version.String()
			if result != tt.expected {
				t.Errorf("String() = %q, expected %q", result, tt.expected)
			}
		})
	}
}
