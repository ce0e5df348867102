// Package commands implements the CLI commands for slipstream.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/slipstream/internal/logger"
	"github.com/jmylchreest/slipstream/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "slipstream",
	Short: "Scrape pages past bot defences and extract content by selector",
	Long: `Slipstream fetches a page with a browser-like fingerprint, clears
captcha and anti-bot challenges where it can, and extracts content by tag,
class, id, CSS selector or XPath.

Examples:
  # Static fetch, all paragraphs
  slipstream scrape -u "https://example.com" --tag p

  # Real browser, solve reCAPTCHA through 2captcha
  TWOCAPTCHA_API_KEY=... slipstream scrape -u "https://shop.example" \
      --mode dynamic --css "div.price"

  # Let slipstream decide, save the raw page too
  slipstream scrape -u "https://example.com" --mode auto \
      --xpath "//h2" --save-html page.html --pretty-html

  # Control sessions over HTTP
  slipstream serve --addr :8080`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(logger.Options{
			Debug: viper.GetBool("debug"),
			Quiet: viper.GetBool("quiet"),
			JSON:  viper.GetBool("log_json"),
		})
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default $HOME/.slipstream.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress progress output")
	rootCmd.PersistentFlags().Bool("log-json", false, "log as JSON")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("log_json", rootCmd.PersistentFlags().Lookup("log-json"))
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".slipstream")
		viper.SetConfigType("yaml")
	}

	// Environment variables
	viper.SetEnvPrefix("SLIPSTREAM")
	viper.AutomaticEnv()

	// The captcha key is also accepted under the service's usual name
	_ = viper.BindEnv("captcha_key", "SLIPSTREAM_CAPTCHA_KEY", "TWOCAPTCHA_API_KEY")

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// sessionConfig loads the "session" block of the config file over the
// defaults, then applies the global captcha settings.
func sessionConfig() (session.Config, error) {
	cfg := session.DefaultConfig()
	if err := viper.UnmarshalKey("session", &cfg); err != nil {
		return cfg, fmt.Errorf("invalid session config: %w", err)
	}
	if key := viper.GetString("captcha_key"); key != "" {
		cfg.Captcha.APIKey = key
	}
	if u := viper.GetString("flaresolverr_url"); u != "" {
		cfg.Captcha.FlareSolverrURL = u
	}
	return cfg, nil
}

// logError prints an error message to stderr.
func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// logInfo prints an info message to stderr (unless quiet mode).
func logInfo(format string, args ...any) {
	if !viper.GetBool("quiet") {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
