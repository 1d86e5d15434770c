package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/bgdnvk/coolctl/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "coolctl",
	Short: "Headless deploy client for Coolify",
	Long: `coolctl drives a Coolify instance the way its web UI does: it logs in with
your account, finds or creates a project and environment, registers a
repository as an application, and optionally sets its domain and deploys it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.SetDebug(viper.GetBool("debug"))
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorLine(err))
		if strings.HasPrefix(err.Error(), "unknown command") {
			fmt.Fprint(os.Stderr, rootCmd.UsageString())
		}
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.coolctl.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug output (request logs + internal diagnostics)")
	rootCmd.PersistentFlags().String("url", "", "Coolify base URL (or set COOLIFY_URL)")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("base_url", rootCmd.PersistentFlags().Lookup("url"))

	setDefaults()
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".coolctl")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("debug") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
