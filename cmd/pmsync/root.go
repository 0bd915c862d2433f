// Command pmsync keeps a local project-tracking cache in sync with a remote
// tracker and answers dependency queries against it offline.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/semfora/pmsync/internal/coord"
	"github.com/semfora/pmsync/internal/provider"
	"github.com/semfora/pmsync/internal/reconcile"
	"github.com/semfora/pmsync/internal/store"
)

var (
	flagProject string
	flagVerbose bool

	logger *log.Logger
	gates  = coord.NewGates()
)

var rootCmd = &cobra.Command{
	Use:   "pmsync",
	Short: "Local-first cache and dependency graph for project trackers",
	Long: `pmsync mirrors a remote project tracker into a local SQLite cache,
queues local edits for push, and answers dependency and ready-work
queries without touching the network.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagProject, "project", "p", ".",
		"project root directory")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false,
		"log to stderr as well as the log file")
}

func initConfig() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to determine home directory: %w", err)
	}
	configDir := filepath.Join(home, ".pmsync")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.SetEnvPrefix("PMSYNC")
	viper.AutomaticEnv()

	viper.SetDefault("provider.kind", "linear")
	viper.SetDefault("provider.timeout", "30s")
	viper.SetDefault("sync.debounce", "5s")
	viper.SetDefault("sync.retry_ceiling", 5)
	viper.SetDefault("sync.stale_after", "5m")
	viper.SetDefault("decay.threshold", 30.0)
	viper.SetDefault("decay.interval", "24h")
	viper.SetDefault("daemon.pull_interval", "5m")
	viper.SetDefault("daemon.full_resync_interval", "6h")
	viper.SetDefault("log.file", filepath.Join(configDir, "pmsync.log"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	var out io.Writer = &lumberjack.Logger{
		Filename:   viper.GetString("log.file"),
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	if flagVerbose {
		out = io.MultiWriter(out, os.Stderr)
	}
	logger = log.New(out, "", log.LstdFlags)
	return nil
}

// openProject resolves the current project through the registry and opens
// its store with the schema applied.
func openProject(cmd *cobra.Command) (*store.Store, store.RegistryEntry, error) {
	regPath, err := store.DefaultRegistryPath()
	if err != nil {
		return nil, store.RegistryEntry{}, err
	}
	reg, err := store.LoadRegistry(regPath)
	if err != nil {
		return nil, store.RegistryEntry{}, err
	}
	entry, ok := reg.Lookup(flagProject)
	if !ok {
		return nil, store.RegistryEntry{},
			fmt.Errorf("project not registered; run 'pmsync init' first")
	}

	st, err := store.Open(entry.DBPath)
	if err != nil {
		return nil, store.RegistryEntry{}, err
	}
	if err := st.InitSchema(cmd.Context()); err != nil {
		_ = st.Close()
		return nil, store.RegistryEntry{}, err
	}
	return st, entry, nil
}

func providerConfig() provider.Config {
	return provider.Config{
		Kind:    provider.Kind(viper.GetString("provider.kind")),
		APIKey:  viper.GetString("provider.api_key"),
		TeamID:  viper.GetString("provider.team_id"),
		Timeout: viper.GetDuration("provider.timeout"),
	}
}

func reconcileConfig() reconcile.Config {
	cfg := reconcile.DefaultConfig()
	cfg.RetryCeiling = viper.GetInt("sync.retry_ceiling")
	cfg.Debounce = viper.GetDuration("sync.debounce")
	cfg.StaleAfter = viper.GetDuration("sync.stale_after")
	return cfg
}

// newReconciler wires a store to the configured provider behind the
// project's write gate.
func newReconciler(st *store.Store, entry store.RegistryEntry) (*reconcile.Reconciler, error) {
	prov, err := provider.New(providerConfig(), logger)
	if err != nil {
		return nil, err
	}
	gate := gates.For(entry.ProjectID)
	return reconcile.New(st, prov, gate, reconcileConfig(), logger), nil
}
