package main

import (
	"os"

	"github.com/MarcoPoloResearchLab/hive/internal/config"
	"github.com/MarcoPoloResearchLab/hive/internal/logging"
	"github.com/MarcoPoloResearchLab/hive/internal/pseudonym"
	"github.com/MarcoPoloResearchLab/hive/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "hive",
		Short: "Per-guild message archive and analytics",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		newServeCommand(),
		newImportCommand(),
		newExportCommand(),
		newTrendCommand(),
		newRankCommand(),
		newRandomCommand(),
		newStatsCommand(),
		newDaysCommand(),
		newOptimizeCommand(),
		newRebuildCommand(),
		newPurgeCommand(),
		newPruneCommand(),
		newRegisterCommand(),
		newUnregisterCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("database-dir", defaults.GetString("database.dir"), "Directory holding per-guild SQLite files")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address for serve")
	cmd.PersistentFlags().String("admin-token", "", "Bearer token guarding the HTTP query API (overrides env)")
	cmd.PersistentFlags().String("hash-algorithm", defaults.GetString("hash.algorithm"), "Pseudonymization digest (sha256, sha384, sha512)")
	cmd.PersistentFlags().Int("hash-iterations", defaults.GetInt("hash.iterations"), "Pseudonymization PBKDF2 iteration count")
	cmd.PersistentFlags().String("hash-salt", defaults.GetString("hash.salt"), "Pseudonymization salt (overrides env)")

	bindFlag(cmd, "database.dir", "database-dir")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.admin_token", "admin-token")
	bindFlag(cmd, "hash.algorithm", "hash-algorithm")
	bindFlag(cmd, "hash.iterations", "hash-iterations")
	bindFlag(cmd, "hash.salt", "hash-salt")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	return viper.ReadInConfig()
}

// app bundles the shared runtime dependencies behind every subcommand.
type app struct {
	config config.AppConfig
	logger *zap.Logger
	hasher *pseudonym.Hasher
	stores *store.Manager
}

func newApp() (*app, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	hasher, err := pseudonym.NewHasher(pseudonym.Config{
		Algorithm:  appConfig.HashAlgorithm,
		Iterations: appConfig.HashIterations,
		Salt:       appConfig.HashSalt,
	})
	if err != nil {
		return nil, err
	}

	stores, err := store.NewManager(store.ManagerConfig{
		Directory: appConfig.DatabaseDir,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		config: appConfig,
		logger: logger,
		hasher: hasher,
		stores: stores,
	}, nil
}

func (a *app) close() {
	if err := a.stores.CloseAll(); err != nil {
		a.logger.Warn("store shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}
