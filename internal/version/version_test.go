package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setBuild overrides the ldflags variables for the duration of a test.
func setBuild(t *testing.T, version, commit string) {
	t.Helper()
	prevVersion, prevCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = prevVersion, prevCommit })
	Version, Commit = version, commit
}

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	assert.NotEmpty(t, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Contains(t, info.Platform, runtime.GOOS)
	assert.Contains(t, info.Platform, runtime.GOARCH)
}

func TestInfo_JSON(t *testing.T) {
	setBuild(t, "1.2.3", "unknown")

	data, err := json.Marshal(GetInfo())
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, "1.2.3", parsed["version"])
	assert.Equal(t, false, parsed["snapshot"])
	assert.Contains(t, parsed, "go_version")
}

func TestShort(t *testing.T) {
	tests := []struct {
		name    string
		version string
		commit  string
		want    string
	}{
		{"dev build", "dev", "unknown", "vidarr dev"},
		{"short commit ignored", "1.0.0", "abc", "vidarr 1.0.0"},
		{"release with commit", "1.0.0", "0123456789abcdef", "vidarr 1.0.0 (01234567)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBuild(t, tt.version, tt.commit)
			assert.Equal(t, tt.want, Short())
		})
	}
}

func TestString(t *testing.T) {
	setBuild(t, "0.4.0", "fedcba9876543210")
	s := String()
	assert.Contains(t, s, "vidarr version 0.4.0")
	assert.Contains(t, s, "commit: fedcba98")

	setBuild(t, "0.4.0", "unknown")
	assert.NotContains(t, String(), "commit:")
}

func TestIsSnapshot(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"dev", true},
		{"1.2.4-SNAPSHOT.abc1234", true},
		{"1.2.3", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			setBuild(t, tt.version, "unknown")
			assert.Equal(t, tt.want, IsSnapshot())
		})
	}
}

func TestUserAgent(t *testing.T) {
	setBuild(t, "2.0.1", "unknown")
	assert.Equal(t, "vidarr/2.0.1", UserAgent())
}
