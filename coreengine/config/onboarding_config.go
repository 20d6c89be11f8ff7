// Package config provides onboarding engine configuration.
//
// This module contains the knobs of the conversation (delays, option lists,
// validation thresholds), of the completion policy, and of the process that
// hosts sessions (addresses, logging, Firebase).
//
// Environment parsing happens in cmd; this package only merges maps.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/onboarding/coreengine/typeutil"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/validate"
)

// OnboardingConfig holds onboarding engine configuration.
type OnboardingConfig struct {
	// Conversation timing (milliseconds)
	TypingDelayMS      int `json:"typing_delay_ms" yaml:"typing_delay_ms"`
	ShortTypingDelayMS int `json:"short_typing_delay_ms" yaml:"short_typing_delay_ms"`
	RedirectDelayMS    int `json:"redirect_delay_ms" yaml:"redirect_delay_ms"`

	// Validation
	MinPhoneDigits    int    `json:"min_phone_digits" yaml:"min_phone_digits"`
	DefaultOpenTime   string `json:"default_open_time" yaml:"default_open_time"`
	DefaultCloseTime  string `json:"default_close_time" yaml:"default_close_time"`
	EnforceHoursOrder bool   `json:"enforce_hours_order" yaml:"enforce_hours_order"` // Require open < close
	MaxDocumentBytes  int    `json:"max_document_bytes" yaml:"max_document_bytes"`

	// Option lists ("Other" enables companion text)
	GoalOptions           []string `json:"goal_options" yaml:"goal_options"`
	IndustryOptions       []string `json:"industry_options" yaml:"industry_options"`
	ReviewPlatformOptions []string `json:"review_platform_options" yaml:"review_platform_options"`

	// Completion policy
	RequireSubmissionForCompletion bool `json:"require_submission_for_completion" yaml:"require_submission_for_completion"` // Write the flag only after a 2xx

	// Automation webhook
	WebhookURL       string `json:"webhook_url" yaml:"webhook_url"`
	WebhookTimeoutMS int    `json:"webhook_timeout_ms" yaml:"webhook_timeout_ms"`

	// Navigation targets
	DashboardPath string `json:"dashboard_path" yaml:"dashboard_path"`
	LoginPath     string `json:"login_path" yaml:"login_path"`

	// Session registry
	SessionIdleTTLSeconds  int `json:"session_idle_ttl_s" yaml:"session_idle_ttl_s"`
	StartRequestsPerMinute int `json:"start_requests_per_minute" yaml:"start_requests_per_minute"`
	StartRequestsPerHour   int `json:"start_requests_per_hour" yaml:"start_requests_per_hour"`

	// Service
	ServiceName    string `json:"service_name" yaml:"service_name"`
	LogLevel       string `json:"log_level" yaml:"log_level"`
	LogFormat      string `json:"log_format" yaml:"log_format"` // "console" or "json"
	GRPCAddress    string `json:"grpc_address" yaml:"grpc_address"`
	MetricsAddress string `json:"metrics_address" yaml:"metrics_address"`
	OTLPEndpoint   string `json:"otlp_endpoint" yaml:"otlp_endpoint"`

	// Firebase (empty credentials file means in-memory collaborators)
	FirebaseCredentialsFile string `json:"firebase_credentials_file" yaml:"firebase_credentials_file"`
	FirebaseDatabaseURL     string `json:"firebase_database_url" yaml:"firebase_database_url"`
	FirebaseProjectID       string `json:"firebase_project_id" yaml:"firebase_project_id"`
	FirebaseUsersPath       string `json:"firebase_users_path" yaml:"firebase_users_path"`
}

// DefaultOnboardingConfig returns an OnboardingConfig with default values.
func DefaultOnboardingConfig() *OnboardingConfig {
	return &OnboardingConfig{
		// Conversation timing
		TypingDelayMS:      900,
		ShortTypingDelayMS: 400,
		RedirectDelayMS:    3000,

		// Validation
		MinPhoneDigits:    7,
		DefaultOpenTime:   "09:00",
		DefaultCloseTime:  "18:00",
		EnforceHoursOrder: false,
		MaxDocumentBytes:  10 << 20,

		// Option lists
		GoalOptions: []string{
			"Automate Support",
			"Generate Leads",
			"Re-engage Clients",
		},
		IndustryOptions: []string{
			"Salon & Beauty",
			"Health & Wellness",
			"Restaurant & Cafe",
			"Retail",
			"Real Estate",
			"Professional Services",
			validate.OtherOption,
		},
		ReviewPlatformOptions: []string{
			"Google Reviews",
			"Yelp",
			"Facebook",
			"TripAdvisor",
			validate.OtherOption,
		},

		// Completion policy
		RequireSubmissionForCompletion: false,

		// Automation webhook
		WebhookURL:       "",
		WebhookTimeoutMS: 15000,

		// Navigation targets
		DashboardPath: "/dashboard",
		LoginPath:     "/login",

		// Session registry
		SessionIdleTTLSeconds:  86400,
		StartRequestsPerMinute: 10,
		StartRequestsPerHour:   60,

		// Service
		ServiceName:    "onboardd",
		LogLevel:       "info",
		LogFormat:      "console",
		GRPCAddress:    ":50051",
		MetricsAddress: ":9090",
		OTLPEndpoint:   "",

		// Firebase
		FirebaseUsersPath: "users",
	}
}

// OnboardingConfigFromMap creates OnboardingConfig from a map.
// Unknown keys are ignored; values that fail to coerce keep their defaults.
func OnboardingConfigFromMap(m map[string]any) *OnboardingConfig {
	c := DefaultOnboardingConfig()

	ints := map[string]*int{
		"typing_delay_ms":           &c.TypingDelayMS,
		"short_typing_delay_ms":     &c.ShortTypingDelayMS,
		"redirect_delay_ms":         &c.RedirectDelayMS,
		"min_phone_digits":          &c.MinPhoneDigits,
		"max_document_bytes":        &c.MaxDocumentBytes,
		"webhook_timeout_ms":        &c.WebhookTimeoutMS,
		"session_idle_ttl_s":        &c.SessionIdleTTLSeconds,
		"start_requests_per_minute": &c.StartRequestsPerMinute,
		"start_requests_per_hour":   &c.StartRequestsPerHour,
	}
	for key, dst := range ints {
		if v, ok := typeutil.Int(m[key]); ok {
			*dst = v
		}
	}

	strs := map[string]*string{
		"default_open_time":         &c.DefaultOpenTime,
		"default_close_time":        &c.DefaultCloseTime,
		"webhook_url":               &c.WebhookURL,
		"dashboard_path":            &c.DashboardPath,
		"login_path":                &c.LoginPath,
		"service_name":              &c.ServiceName,
		"log_level":                 &c.LogLevel,
		"log_format":                &c.LogFormat,
		"grpc_address":              &c.GRPCAddress,
		"metrics_address":           &c.MetricsAddress,
		"otlp_endpoint":             &c.OTLPEndpoint,
		"firebase_credentials_file": &c.FirebaseCredentialsFile,
		"firebase_database_url":     &c.FirebaseDatabaseURL,
		"firebase_project_id":       &c.FirebaseProjectID,
		"firebase_users_path":       &c.FirebaseUsersPath,
	}
	for key, dst := range strs {
		if v, ok := typeutil.String(m[key]); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"enforce_hours_order":               &c.EnforceHoursOrder,
		"require_submission_for_completion": &c.RequireSubmissionForCompletion,
	}
	for key, dst := range bools {
		if v, ok := typeutil.Bool(m[key]); ok {
			*dst = v
		}
	}

	lists := map[string]*[]string{
		"goal_options":            &c.GoalOptions,
		"industry_options":        &c.IndustryOptions,
		"review_platform_options": &c.ReviewPlatformOptions,
	}
	for key, dst := range lists {
		if v, ok := typeutil.StringSlice(m[key]); ok && len(v) > 0 {
			*dst = v
		}
	}

	return c
}

// ToMap converts config to a map.
func (c *OnboardingConfig) ToMap() map[string]any {
	return map[string]any{
		"typing_delay_ms":                   c.TypingDelayMS,
		"short_typing_delay_ms":             c.ShortTypingDelayMS,
		"redirect_delay_ms":                 c.RedirectDelayMS,
		"min_phone_digits":                  c.MinPhoneDigits,
		"default_open_time":                 c.DefaultOpenTime,
		"default_close_time":                c.DefaultCloseTime,
		"enforce_hours_order":               c.EnforceHoursOrder,
		"max_document_bytes":                c.MaxDocumentBytes,
		"goal_options":                      append([]string(nil), c.GoalOptions...),
		"industry_options":                  append([]string(nil), c.IndustryOptions...),
		"review_platform_options":           append([]string(nil), c.ReviewPlatformOptions...),
		"require_submission_for_completion": c.RequireSubmissionForCompletion,
		"webhook_url":                       c.WebhookURL,
		"webhook_timeout_ms":                c.WebhookTimeoutMS,
		"dashboard_path":                    c.DashboardPath,
		"login_path":                        c.LoginPath,
		"session_idle_ttl_s":                c.SessionIdleTTLSeconds,
		"start_requests_per_minute":         c.StartRequestsPerMinute,
		"start_requests_per_hour":           c.StartRequestsPerHour,
		"service_name":                      c.ServiceName,
		"log_level":                         c.LogLevel,
		"log_format":                        c.LogFormat,
		"grpc_address":                      c.GRPCAddress,
		"metrics_address":                   c.MetricsAddress,
		"otlp_endpoint":                     c.OTLPEndpoint,
		"firebase_credentials_file":         c.FirebaseCredentialsFile,
		"firebase_database_url":             c.FirebaseDatabaseURL,
		"firebase_project_id":               c.FirebaseProjectID,
		"firebase_users_path":               c.FirebaseUsersPath,
	}
}

// Validate checks that the configuration can drive a session.
func (c *OnboardingConfig) Validate() error {
	if c.TypingDelayMS < 0 || c.ShortTypingDelayMS < 0 || c.RedirectDelayMS < 0 {
		return fmt.Errorf("delays must be non-negative")
	}
	if c.MinPhoneDigits < 1 {
		return fmt.Errorf("min_phone_digits must be positive, got %d", c.MinPhoneDigits)
	}
	if !validate.TimeOfDay(c.DefaultOpenTime) {
		return fmt.Errorf("default_open_time %q is not HH:MM", c.DefaultOpenTime)
	}
	if !validate.TimeOfDay(c.DefaultCloseTime) {
		return fmt.Errorf("default_close_time %q is not HH:MM", c.DefaultCloseTime)
	}
	if c.EnforceHoursOrder && !validate.HoursOrdered(c.DefaultOpenTime, c.DefaultCloseTime) {
		return fmt.Errorf("default hours %s-%s are not ordered", c.DefaultOpenTime, c.DefaultCloseTime)
	}
	if len(c.GoalOptions) == 0 {
		return fmt.Errorf("goal_options must not be empty")
	}
	if len(c.IndustryOptions) == 0 {
		return fmt.Errorf("industry_options must not be empty")
	}
	if len(c.ReviewPlatformOptions) == 0 {
		return fmt.Errorf("review_platform_options must not be empty")
	}
	if c.MaxDocumentBytes <= 0 {
		return fmt.Errorf("max_document_bytes must be positive")
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}
	return nil
}

// TypingDelay returns the full typing delay.
func (c *OnboardingConfig) TypingDelay() time.Duration {
	return time.Duration(c.TypingDelayMS) * time.Millisecond
}

// ShortTypingDelay returns the follow-up typing delay.
func (c *OnboardingConfig) ShortTypingDelay() time.Duration {
	return time.Duration(c.ShortTypingDelayMS) * time.Millisecond
}

// RedirectDelay returns how long Done is displayed before redirecting.
func (c *OnboardingConfig) RedirectDelay() time.Duration {
	return time.Duration(c.RedirectDelayMS) * time.Millisecond
}

// WebhookTimeout returns the per-request webhook timeout.
func (c *OnboardingConfig) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutMS) * time.Millisecond
}

// SessionIdleTTL returns how long an untouched session is kept.
func (c *OnboardingConfig) SessionIdleTTL() time.Duration {
	return time.Duration(c.SessionIdleTTLSeconds) * time.Second
}

// =============================================================================
// GLOBAL CONFIG (set by cmd bootstrap)
// =============================================================================

var (
	globalConfig *OnboardingConfig
	configMu     sync.RWMutex
)

// GetOnboardingConfig gets the process configuration.
// Returns the injected config or defaults.
func GetOnboardingConfig() *OnboardingConfig {
	configMu.RLock()
	defer configMu.RUnlock()

	if globalConfig == nil {
		return DefaultOnboardingConfig()
	}
	return globalConfig
}

// SetOnboardingConfig sets the process configuration.
func SetOnboardingConfig(cfg *OnboardingConfig) {
	configMu.Lock()
	defer configMu.Unlock()

	globalConfig = cfg
}

// ResetOnboardingConfig resets the process configuration to defaults.
func ResetOnboardingConfig() {
	configMu.Lock()
	defer configMu.Unlock()

	globalConfig = nil
}
