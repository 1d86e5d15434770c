package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/bgdnvk/coolctl/internal/workflow"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func clearCredentialEnv(t *testing.T) {
	for _, k := range []string{envEmail, envPassword, envLegacyEmail, envLegacyPassword} {
		t.Setenv(k, "")
	}
}

func TestResolveCredentials(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv(envEmail, "me@example.com")
	t.Setenv(envPassword, "pw")

	creds, err := resolveCredentials()
	require.NoError(t, err)
	assert.Equal(t, workflow.Credentials{Email: "me@example.com", Password: "pw"}, creds)
}

func TestResolveCredentials_Legacy(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv(envLegacyEmail, "old@example.com")
	t.Setenv(envLegacyPassword, "oldpw")

	creds, err := resolveCredentials()
	require.NoError(t, err)
	assert.Equal(t, "old@example.com", creds.Email)
	assert.Equal(t, "oldpw", creds.Password)
}

func TestResolveCredentials_Missing(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv(envEmail, "me@example.com")

	_, err := resolveCredentials()
	require.Error(t, err)
	assert.Contains(t, err.Error(), envPassword)
	assert.NotContains(t, err.Error(), envEmail+" and")
}

func TestResolveBaseURL(t *testing.T) {
	prev := viper.GetString("base_url")
	t.Cleanup(func() { viper.Set("base_url", prev) })

	viper.Set("base_url", "")
	t.Setenv(envBaseURL, "")
	_, err := resolveBaseURL()
	assert.Error(t, err)

	t.Setenv(envBaseURL, "https://env.example.com")
	u, err := resolveBaseURL()
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", u)

	viper.Set("base_url", "https://flag.example.com")
	u, err = resolveBaseURL()
	require.NoError(t, err)
	assert.Equal(t, "https://flag.example.com", u)
}

func TestErrorLine(t *testing.T) {
	err := fmt.Errorf("run: %w", &workflow.StepError{Step: workflow.StateAuthenticated, Err: workflow.ErrAuth})
	assert.Equal(t, "deploy failed at Authenticated: authentication failed", errorLine(err))
	assert.Equal(t, "Error: boom", errorLine(errors.New("boom")))
}

func TestRenderDefaultConfig(t *testing.T) {
	content, err := renderDefaultConfig()
	require.NoError(t, err)

	var parsed fileConfig
	require.NoError(t, yaml.Unmarshal(content, &parsed))
	assert.Equal(t, "30s", parsed.Transport.Timeout)
	assert.Equal(t, "2s", parsed.Retry.Delay)
	assert.Equal(t, 3, parsed.Retry.Attempts)
	assert.Equal(t, "/livewire/update", parsed.Livewire.UpdatePath)
	assert.Equal(t, []string{"repository_url"}, parsed.Application.Markers)

	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewReader(content)))
	assert.Equal(t, "30s", v.GetDuration("transport.timeout").String())
	assert.Equal(t, "private-deploy-key", v.GetString("application.type"))
}

func TestPrintable(t *testing.T) {
	out := printable(map[string]any{"retry": map[string]any{"delay": workflow.DefaultPollInterval, "attempts": 3}})
	assert.Equal(t, map[string]any{"retry": map[string]any{"delay": "5s", "attempts": 3}}, out)
}

func TestUnknownCommand(t *testing.T) {
	rootCmd.SetArgs([]string{"launch-rockets"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}
