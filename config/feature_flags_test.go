package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureFlags_Defaults(t *testing.T) {
	ff := NewFeatureFlags()

	assert.True(t, ff.IsEnabled(FeatureNotifyProgress))
	assert.True(t, ff.IsEnabled(FeatureHistoryRecord))
	assert.True(t, ff.IsEnabled(FeatureHTTPStream))
	assert.False(t, ff.IsEnabled("unknown.flag"))
	assert.Len(t, ff.GetAllFeatures(), 3)
}

func TestFeatureFlags_FlagSeesRuntimeChanges(t *testing.T) {
	ff := NewFeatureFlags()
	flag := ff.Flag(FeatureNotifyProgress)

	require.True(t, flag())
	require.NoError(t, ff.DisableFeature(FeatureNotifyProgress))
	assert.False(t, flag())
	require.NoError(t, ff.EnableFeature(FeatureNotifyProgress))
	assert.True(t, flag())

	assert.ErrorIs(t, ff.EnableFeature("nope"), ErrFeatureNotFound)
}

func TestFeatureFlags_Window(t *testing.T) {
	ff := NewFeatureFlags()
	now := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	ff.now = func() time.Time { return now }

	from := now.Add(time.Hour)
	require.NoError(t, ff.SetWindow(FeatureHTTPStream, &from, nil))
	assert.False(t, ff.IsEnabled(FeatureHTTPStream))

	now = now.Add(2 * time.Hour)
	assert.True(t, ff.IsEnabled(FeatureHTTPStream))

	until := from.Add(-time.Minute)
	assert.ErrorIs(t, ff.SetWindow(FeatureHTTPStream, &from, &until), ErrInvalidWindow)
}

func TestFeatureFlags_OverridesIgnoreUnknown(t *testing.T) {
	ff := LoadFeatureFlags(map[string]bool{"made.up": true, FeatureHTTPStream: false})

	assert.False(t, ff.IsEnabled("made.up"))
	assert.False(t, ff.IsEnabled(FeatureHTTPStream))
}

func TestFeatureNameToEnvKey(t *testing.T) {
	assert.Equal(t, "FEATURE_NOTIFY_PROGRESS", featureNameToEnvKey(FeatureNotifyProgress))
	assert.Equal(t, "FEATURE_HTTP_STREAM", featureNameToEnvKey(FeatureHTTPStream))
}
