package telemetry

import (
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybershakti/deepfake-go/internal/conf"
)

func TestApplyPrivacyFilters(t *testing.T) {
	t.Parallel()
	event := &sentry.Event{
		ServerName: "host-01",
		User:       sentry.User{ID: "42", IPAddress: "203.0.113.4"},
		Contexts: map[string]sentry.Context{
			"os":      {"name": "linux"},
			"runtime": {"name": "go"},
			"trace":   {"id": "abc"},
		},
		Extra: map[string]any{
			"operation": "persist",
			"file_path": "/home/user/upload.png",
		},
		Tags: map[string]string{"hostname": "host-01", "category": "file-io"},
	}

	got := applyPrivacyFilters(event)

	assert.Empty(t, got.ServerName)
	assert.Equal(t, sentry.User{}, got.User)
	assert.NotContains(t, got.Contexts, "os")
	assert.NotContains(t, got.Contexts, "runtime")
	assert.Contains(t, got.Contexts, "trace")
	assert.Equal(t, map[string]any{"operation": "persist"}, got.Extra)
	assert.Equal(t, map[string]string{"category": "file-io"}, got.Tags)
}

func TestInitSentry(t *testing.T) {
	t.Parallel()

	disabled := &conf.Settings{}
	require.NoError(t, InitSentry(disabled, "test"))

	missingDSN := &conf.Settings{}
	missingDSN.Sentry.Enabled = true
	assert.Error(t, InitSentry(missingDSN, "test"))
}
