package main

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"droid-pilot/internal/config"
	"droid-pilot/internal/observability"
)

const (
	envPrefix     = "DROID_PILOT"
	defaultConfig = "~/.droid-pilot/config.yaml"
)

// app carries what every subcommand needs once the root has initialized.
type app struct {
	v       *viper.Viper
	cfgFile string
	envFile string
	cfg     *config.Config
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	root, _ := newRoot()
	return root
}

func newRoot() (*cobra.Command, *app) {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "droid-pilot",
		Short:         "Drive a phone (or desktop) toward a goal with a vision language model.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initialize()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			observability.Sync()
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default is "+defaultConfig+")")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("backend", "", "device backend (adb, desktop)")
	flags.String("serial", "", "adb device serial")
	_ = a.v.BindPFlag("logger.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("device.backend", flags.Lookup("backend"))
	_ = a.v.BindPFlag("device.serial", flags.Lookup("serial"))

	root.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newHistoryCmd(a),
		newScreenCmd(a),
	)
	return root, a
}

// initialize reads .env, the config file and DROID_PILOT_* variables, then
// sets up logging.
func (a *app) initialize() error {
	if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error reading env file: %w", err)
	}

	config.SetDefaults(a.v)
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if err := a.readConfigFile(); err != nil {
		return err
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "droid-pilot"})
		return err
	}
	a.cfg = cfg

	observability.InitializeLogger(cfg.Logger)
	a.logger = observability.GetLogger()
	a.logger.Debug("Configuration loaded",
		zap.String("config_file", a.v.ConfigFileUsed()),
		zap.String("backend", cfg.Device.Backend))
	return nil
}

func (a *app) readConfigFile() error {
	if a.cfgFile != "" {
		path, err := homedir.Expand(a.cfgFile)
		if err != nil {
			return err
		}
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		return nil
	}

	path, err := homedir.Expand(defaultConfig)
	if err != nil {
		return err
	}
	a.v.AddConfigPath(filepath.Dir(path))
	a.v.AddConfigPath(".")
	a.v.SetConfigName("config")
	a.v.SetConfigType("yaml")

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// defaults and environment only
	}
	return nil
}
