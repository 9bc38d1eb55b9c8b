package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCurrentVersion(t *testing.T) {
	assert.Equal(t, DevVersion, GetCurrentVersion("dev"))
	assert.Equal(t, DevVersion, GetCurrentVersion("demo"))
	assert.Equal(t, Version, GetCurrentVersion("prod"))
}

func TestIsVersionGreaterOrEqualThan(t *testing.T) {
	tests := []struct {
		name    string
		version string
		target  string
		want    bool
	}{
		{"newer", "0.2.0", "0.1.0", true},
		{"equal", "0.1.0", "0.1.0", true},
		{"older", "0.1.0", "0.2.0", false},
		{"patch newer", "0.1.1", "0.1.0", true},
		{"prerelease is older than release", "0.2.0-rc1", "0.2.0", false},
		{"invalid version is older than any valid one", "garbage", "0.1.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsVersionGreaterOrEqualThan(tt.version, tt.target))
		})
	}
}
