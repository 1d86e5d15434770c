package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bgdnvk/coolctl/internal/history"
	"github.com/bgdnvk/coolctl/internal/livewire"
	"github.com/bgdnvk/coolctl/internal/logging"
	"github.com/bgdnvk/coolctl/internal/transport"
	"github.com/bgdnvk/coolctl/internal/workflow"
	"github.com/spf13/viper"
)

// Credential environment variables. U and P are accepted for older setups.
const (
	envEmail          = "COOLIFY_EMAIL"
	envPassword       = "COOLIFY_PASSWORD"
	envLegacyEmail    = "U"
	envLegacyPassword = "P"
	envBaseURL        = "COOLIFY_URL"
	envGitHubToken    = "GITHUB_TOKEN"
)

func setDefaults() {
	viper.SetDefault("transport.timeout", transport.DefaultTimeout)
	viper.SetDefault("transport.max_redirects", transport.DefaultMaxRedirects)
	viper.SetDefault("livewire.update_path", livewire.DefaultUpdatePath)
	viper.SetDefault("livewire.id_suffix", string(livewire.SuffixNone))
	viper.SetDefault("retry.attempts", livewire.DefaultRetryAttempts)
	viper.SetDefault("retry.delay", livewire.DefaultRetryDelay)
	viper.SetDefault("application.type", workflow.DefaultApplicationType)
	viper.SetDefault("application.server_id", workflow.DefaultServerID)
	viper.SetDefault("application.markers", workflow.DefaultMarkers)
	viper.SetDefault("workflow.settle_delay", workflow.DefaultSettleDelay)
	viper.SetDefault("deploy.poll_interval", workflow.DefaultPollInterval)
	viper.SetDefault("deploy.max_polls", workflow.DefaultMaxPolls)
	viper.SetDefault("smoke.enabled", true)
	viper.SetDefault("history.path", history.DefaultPath())
}

// resolveBaseURL picks the Coolify URL from flag/config, then COOLIFY_URL.
func resolveBaseURL() (string, error) {
	if u := strings.TrimSpace(viper.GetString("base_url")); u != "" {
		return u, nil
	}
	if u := strings.TrimSpace(os.Getenv(envBaseURL)); u != "" {
		return u, nil
	}
	return "", fmt.Errorf("no Coolify URL configured: pass --url, set base_url in the config file or set %s", envBaseURL)
}

// resolveCredentials reads the login from the environment. Both values are
// required; the error names what is missing.
func resolveCredentials() (workflow.Credentials, error) {
	creds := workflow.Credentials{
		Email:    firstEnv(envEmail, envLegacyEmail),
		Password: firstEnv(envPassword, envLegacyPassword),
	}

	var missing []string
	if creds.Email == "" {
		missing = append(missing, envEmail)
	}
	if creds.Password == "" {
		missing = append(missing, envPassword)
	}
	if len(missing) > 0 {
		return creds, fmt.Errorf("missing credentials: set %s", strings.Join(missing, " and "))
	}
	return creds, nil
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			return v
		}
	}
	return ""
}

// resolveGitHubToken picks the token from config, then GITHUB_TOKEN.
func resolveGitHubToken() string {
	if t := viper.GetString("github.token"); t != "" {
		return t
	}
	return os.Getenv(envGitHubToken)
}

func protocolConfig(baseURL string) livewire.Config {
	log := logging.Logger("livewire")
	return livewire.Config{
		BaseURL:       baseURL,
		UpdatePath:    viper.GetString("livewire.update_path"),
		IDSuffix:      livewire.SuffixMode(viper.GetString("livewire.id_suffix")),
		RetryAttempts: viper.GetInt("retry.attempts"),
		RetryDelay:    viper.GetDuration("retry.delay"),
		Transport: transport.Options{
			Timeout:      viper.GetDuration("transport.timeout"),
			MaxRedirects: viper.GetInt("transport.max_redirects"),
		},
		Logger: &log,
	}
}

func workflowOptions(creds workflow.Credentials) workflow.Options {
	return workflow.Options{
		Credentials:        creds,
		ProjectID:          viper.GetString("project.id"),
		ProjectName:        viper.GetString("project.name"),
		ProjectDescription: viper.GetString("project.description"),
		FallbackProjectID:  viper.GetString("project.fallback_id"),
		EnvironmentID:      viper.GetString("environment.id"),
		ApplicationType:    viper.GetString("application.type"),
		Destination:        viper.GetString("application.destination"),
		ServerID:           viper.GetString("application.server_id"),
		Repository:         viper.GetString("application.repository"),
		Branch:             viper.GetString("application.branch"),
		Domain:             viper.GetString("application.domain"),
		PrivateKeyID:       viper.GetString("application.private_key_id"),
		Markers:            viper.GetStringSlice("application.markers"),
		ExtraUpdates:       viper.GetStringMap("application.extra_updates"),
		SettleDelay:        viper.GetDuration("workflow.settle_delay"),
		PollInterval:       viper.GetDuration("deploy.poll_interval"),
		MaxPolls:           viper.GetInt("deploy.max_polls"),
		Smoke:              viper.GetBool("smoke.enabled"),
	}
}

func smokeTimeout() time.Duration {
	if d := viper.GetDuration("transport.timeout"); d > 0 {
		return d
	}
	return transport.DefaultTimeout
}

// errorLine renders the final error for the terminal.
func errorLine(err error) string {
	var stepErr *workflow.StepError
	if errors.As(err, &stepErr) {
		return fmt.Sprintf("deploy failed at %s: %v", stepErr.Step, stepErr.Err)
	}
	return "Error: " + err.Error()
}
