package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bgdnvk/coolctl/internal/history"
	"github.com/bgdnvk/coolctl/internal/livewire"
	"github.com/bgdnvk/coolctl/internal/transport"
	"github.com/bgdnvk/coolctl/internal/workflow"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the config file layout for `config init`. Durations are
// written as strings such as "30s".
type fileConfig struct {
	BaseURL     string            `yaml:"base_url"`
	Transport   transportConfig   `yaml:"transport"`
	Livewire    livewireConfig    `yaml:"livewire"`
	Retry       retryConfig       `yaml:"retry"`
	Project     projectConfig     `yaml:"project"`
	Environment environmentConfig `yaml:"environment"`
	Application applicationConfig `yaml:"application"`
	Workflow    workflowConfig    `yaml:"workflow"`
	Deploy      deployConfig      `yaml:"deploy"`
	Smoke       smokeConfig       `yaml:"smoke"`
	History     historyConfig     `yaml:"history"`
	GitHub      githubConfig      `yaml:"github"`
}

type transportConfig struct {
	Timeout      string `yaml:"timeout"`
	MaxRedirects int    `yaml:"max_redirects"`
}

type livewireConfig struct {
	UpdatePath string `yaml:"update_path"`
	IDSuffix   string `yaml:"id_suffix"`
}

type retryConfig struct {
	Attempts int    `yaml:"attempts"`
	Delay    string `yaml:"delay"`
}

type projectConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	FallbackID  string `yaml:"fallback_id"`
}

type environmentConfig struct {
	ID string `yaml:"id"`
}

type applicationConfig struct {
	Type         string         `yaml:"type"`
	Destination  string         `yaml:"destination"`
	ServerID     string         `yaml:"server_id"`
	Repository   string         `yaml:"repository"`
	Branch       string         `yaml:"branch"`
	Domain       string         `yaml:"domain"`
	PrivateKeyID string         `yaml:"private_key_id"`
	Markers      []string       `yaml:"markers"`
	ExtraUpdates map[string]any `yaml:"extra_updates"`
}

type workflowConfig struct {
	SettleDelay string `yaml:"settle_delay"`
}

type deployConfig struct {
	PollInterval string `yaml:"poll_interval"`
	MaxPolls     int    `yaml:"max_polls"`
}

type smokeConfig struct {
	Enabled bool `yaml:"enabled"`
}

type historyConfig struct {
	Path string `yaml:"path"`
}

type githubConfig struct {
	Token string `yaml:"token"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		BaseURL:   "https://coolify.example.com",
		Transport: transportConfig{Timeout: transport.DefaultTimeout.String(), MaxRedirects: transport.DefaultMaxRedirects},
		Livewire:  livewireConfig{UpdatePath: livewire.DefaultUpdatePath, IDSuffix: string(livewire.SuffixNone)},
		Retry:     retryConfig{Attempts: livewire.DefaultRetryAttempts, Delay: livewire.DefaultRetryDelay.String()},
		Project:   projectConfig{Description: "created by coolctl"},
		Application: applicationConfig{
			Type:         workflow.DefaultApplicationType,
			ServerID:     workflow.DefaultServerID,
			Repository:   "https://github.com/your-org/your-app",
			Markers:      workflow.DefaultMarkers,
			ExtraUpdates: map[string]any{},
		},
		Workflow: workflowConfig{SettleDelay: workflow.DefaultSettleDelay.String()},
		Deploy:   deployConfig{PollInterval: workflow.DefaultPollInterval.String(), MaxPolls: workflow.DefaultMaxPolls},
		Smoke:    smokeConfig{Enabled: true},
		History:  historyConfig{Path: history.DefaultPath()},
	}
}

// renderDefaultConfig produces the text written by `config init`.
func renderDefaultConfig() ([]byte, error) {
	body, err := yaml.Marshal(defaultFileConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to render default config: %w", err)
	}
	header := "# coolctl configuration\n" +
		"# Credentials are never stored here: set COOLIFY_EMAIL and COOLIFY_PASSWORD.\n\n"
	return append([]byte(header), body...), nil
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage coolctl configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long:  `Create a default configuration file in your home directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := cfgFile
		if configPath == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("error finding home directory: %w", err)
			}
			configPath = filepath.Join(home, ".coolctl.yaml")
		}

		if _, err := os.Stat(configPath); err == nil {
			fmt.Printf("Configuration file already exists at %s\n", configPath)
			return nil
		}

		content, err := renderDefaultConfig()
		if err != nil {
			return err
		}
		if err := os.WriteFile(configPath, content, 0600); err != nil {
			return fmt.Errorf("error writing config file: %w", err)
		}

		fmt.Printf("Configuration file created at %s\n", configPath)
		fmt.Println("Edit base_url and application.repository, then run 'coolctl deploy'.")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective settings after merging defaults, the config file, flags and environment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Printf("Configuration file: %s\n\n", used)
		} else {
			fmt.Println("No configuration file found. Run 'coolctl config init' to create one.")
			fmt.Println()
		}

		settings := viper.AllSettings()
		if gh, ok := settings["github"].(map[string]any); ok {
			if tok, ok := gh["token"].(string); ok && tok != "" {
				gh["token"] = "********"
			}
		}

		out, err := yaml.Marshal(printable(settings))
		if err != nil {
			return fmt.Errorf("error rendering settings: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

// printable renders durations as text so the output can be pasted back
// into a config file.
func printable(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = printable(val)
		}
		return out
	case time.Duration:
		return t.String()
	}
	return v
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
