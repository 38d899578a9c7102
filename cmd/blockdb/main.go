// Command blockdb inspects and exercises a blockdb database directory.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"blockdb/internal/config"
	"blockdb/internal/logger"
)

var (
	rootCmd = &cobra.Command{
		Use:               "blockdb",
		Short:             "Inspect and exercise a blockdb database",
		Long:              "blockdb is a single-node transactional block storage kernel.",
		PersistentPreRunE: rootPreRun,
		PersistentPostRun: rootPostRun,
		SilenceUsage:      true,
	}

	cfg = config.Default()
	log = zap.NewNop()

	configFile = "blockdb.hcl"
	noConfig   = false

	usedFlags = map[string]struct{}{}
)

func init() {
	fs := rootCmd.PersistentFlags()

	fs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	fs.BoolVar(&noConfig, "no-config", noConfig, "don't load config file")

	fs.StringVarP(&cfg.Directory, "directory", "d", cfg.Directory, "database `directory`")
	fs.Int32Var(&cfg.BlockSize, "block-size", cfg.BlockSize, "block size in bytes")
	fs.Int32Var(&cfg.BufferCount, "buffer-count", cfg.BufferCount, "number of buffers in the pool")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "write-ahead log `file` inside the directory")
	fs.DurationVar(&cfg.MaxWait, "max-wait", cfg.MaxWait, "how long to wait for a lock or buffer")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level: debug, info, warn, or error")
	fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "log format: console or json")
	fs.StringVar(&cfg.Log.OutputFile, "log-output", cfg.Log.OutputFile, "`file` to write logs to (default stderr)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func rootPreRun(cmd *cobra.Command, args []string) error {
	cmd.Flags().Visit(func(flg *pflag.Flag) {
		usedFlags[flg.Name] = struct{}{}
	})

	if configFile != "" && !noConfig {
		err := cfg.LoadExcept(configFile, func(name string) bool {
			_, ok := usedFlags[strings.ReplaceAll(name, "_", "-")]
			return ok
		})
		// A missing default config file is not an error.
		if err != nil && !(errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config-file")) {
			return fmt.Errorf("blockdb: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("blockdb: %w", err)
	}

	var err error
	if log, err = logger.New(cfg.Log); err != nil {
		return fmt.Errorf("blockdb: %w", err)
	}
	log.Debug("blockdb starting", zap.Int("pid", os.Getpid()), zap.String("command", cmd.Name()))
	return nil
}

func rootPostRun(cmd *cobra.Command, args []string) {
	log.Debug("blockdb done", zap.Int("pid", os.Getpid()))
	_ = log.Sync()
}
