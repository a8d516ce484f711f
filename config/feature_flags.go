package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages runtime toggles of optional timer behaviour.
// Flags can be flipped while the daemon runs; components read them through
// Flag so a change takes effect on the next use.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	now func() time.Time
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Enabled     bool       `json:"enabled"`
	Source      string     `json:"source"` // default, file, env, runtime
	UpdatedAt   time.Time  `json:"updated_at"`
	EnabledFrom *time.Time `json:"enabled_from,omitempty"`
	// EnabledUntil switches the flag off after the given instant.
	EnabledUntil *time.Time `json:"enabled_until,omitempty"`
}

// Predefined feature flag names.
const (
	FeatureNotifyProgress = "notify.progress" // "10 minutes left" reminder
	FeatureHistoryRecord  = "history.record"  // write completed segments to the study log
	FeatureHTTPStream     = "http.stream"     // websocket stream of timer state
)

// LoadFeatureFlags builds flags from defaults, then overrides (usually the
// YAML "features" map), then FEATURE_<NAME> variables.
func LoadFeatureFlags(overrides map[string]bool) *FeatureFlags {
	ff := NewFeatureFlags()

	for name, enabled := range overrides {
		ff.set(name, enabled, "file")
	}

	ff.loadFromEnvironment()

	return ff
}

// NewFeatureFlags returns flags with default values only.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features: make(map[string]*Feature),
		now:      time.Now,
	}
	ff.initializeDefaults()
	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	now := ff.now()

	ff.features[FeatureNotifyProgress] = &Feature{
		Name:        FeatureNotifyProgress,
		Description: "Remind ten minutes before a focus segment ends",
		Enabled:     true,
		Source:      "default",
		UpdatedAt:   now,
	}

	ff.features[FeatureHistoryRecord] = &Feature{
		Name:        FeatureHistoryRecord,
		Description: "Record completed segments in the study log",
		Enabled:     true,
		Source:      "default",
		UpdatedAt:   now,
	}

	ff.features[FeatureHTTPStream] = &Feature{
		Name:        FeatureHTTPStream,
		Description: "Stream timer state over websocket",
		Enabled:     true,
		Source:      "default",
		UpdatedAt:   now,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false
// Example: FEATURE_NOTIFY_PROGRESS=false
func (ff *FeatureFlags) loadFromEnvironment() {
	for name := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}
		if b, err := strconv.ParseBool(val); err == nil {
			ff.set(name, b, "env")
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "notify.progress" -> "FEATURE_NOTIFY_PROGRESS"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

func (ff *FeatureFlags) set(name string, enabled bool, source string) bool {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[name]
	if !ok {
		return false
	}
	feature.Enabled = enabled
	feature.Source = source
	feature.UpdatedAt = ff.now()
	return true
}

// IsEnabled checks if a feature is enabled right now. Unknown names are
// disabled.
func (ff *FeatureFlags) IsEnabled(featureName string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}

	now := ff.now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}
	return true
}

// Flag returns a closure reading the current value of featureName.
func (ff *FeatureFlags) Flag(featureName string) func() bool {
	return func() bool { return ff.IsEnabled(featureName) }
}

// SetWindow limits a feature to [from, until]. Nil bounds are open.
func (ff *FeatureFlags) SetWindow(featureName string, from, until *time.Time) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if from != nil && until != nil && until.Before(*from) {
		return ErrInvalidWindow
	}
	feature.EnabledFrom = from
	feature.EnabledUntil = until
	feature.UpdatedAt = ff.now()
	return nil
}

// EnableFeature enables a feature at runtime.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	if !ff.set(featureName, true, "runtime") {
		return ErrFeatureNotFound
	}
	return nil
}

// DisableFeature disables a feature at runtime.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	if !ff.set(featureName, false, "runtime") {
		return ErrFeatureNotFound
	}
	return nil
}

// GetAllFeatures returns copies of all features sorted by name.
func (ff *FeatureFlags) GetAllFeatures() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make([]Feature, 0, len(ff.features))
	for _, v := range ff.features {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidWindow   = &FeatureFlagError{Message: "feature window ends before it starts"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
