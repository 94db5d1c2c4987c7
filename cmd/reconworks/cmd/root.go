package cmd

import (
	"fmt"

	"reconworks/cmd/reconworks/config"
	"reconworks/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	envFiles []string
	verbose  bool
	version  = "dev"
	commit   = "unknown"
	date     = "unknown"

	settings = viper.New()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconworks",
	Short: "Batch reconciliation of ledger transactions against vendor payments",
	Long: `Reconworks matches projected ledger transactions to vendor payments for one
batch, flags data-quality problems and derives a single exception queue.
All outputs of a batch are replaced atomically in the SQLite record store.

Examples:
  reconworks run
  reconworks run --batch batch-2025-12 --date-window 5 --output-format json
  reconworks normalize "AMZN Mktp US*2K3" "Uber *Trip"
  reconworks version`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return NewCLIErrorHandler().HandleError(err)
	}
	return 0
}

func init() {
	config.SetDefaults(settings)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (optional, YAML)")
	flags.StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load before reading the environment")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("database", "", "path to the SQLite record store")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text, json")

	_ = settings.BindPFlag(config.KeyDatabasePath, flags.Lookup("database"))
	_ = settings.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	_ = settings.BindPFlag(config.KeyLogFormat, flags.Lookup("log-format"))
}

// initConfig loads dotenv files, the optional config file and environment
// overrides, then installs the configured global logger.
func initConfig(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return err
	}
	if err := config.ReadFile(settings, cfgFile); err != nil {
		return err
	}
	config.BindEnv(settings)

	cfg, err := config.Load(settings)
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(loggerConfig(&cfg.Log, verbose))
	if err != nil {
		return err
	}
	logger.SetGlobalLogger(log)

	if cfgFile != "" {
		log.WithComponent("cli").WithField("config", settings.ConfigFileUsed()).Debug("Using config file")
	}
	return nil
}

// loggerConfig builds the logger configuration. --verbose upgrades the
// default info level to the debug configuration, keeping the chosen format;
// an explicitly configured level wins.
func loggerConfig(cfg *config.LogConfig, verbose bool) *logger.Config {
	lc := cfg.LoggerConfig()
	if !verbose || lc.Level != logger.InfoLevel {
		return lc
	}
	debug := logger.DebugConfig()
	debug.Format = lc.Format
	return debug
}

// loadConfig returns the validated configuration for a subcommand
func loadConfig() (*config.Config, error) {
	return config.Load(settings)
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
