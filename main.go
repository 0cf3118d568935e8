package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lifthrasiir/forkchat/internal/database"
	"github.com/lifthrasiir/forkchat/internal/env"
)

var (
	logLevel   = "info"
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "forkchat",
	Short: "Branching conversation server",
	Long: `forkchat keeps chat transcripts as a tree of messages. Editing a message
forks a new branch instead of rewriting history, so every earlier version
of a conversation stays available.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			log.WithError(err).Fatal("cannot parse log-level")
		}
		log.SetLevel(level)
		log.Debug("debug logging enabled")
	},
}

// flagKeys maps command-line flags to the configuration keys they override.
var flagKeys = map[string]string{
	"data-dir":           env.KeyDataDir,
	"db":                 env.KeyDBPath,
	"memory-db":          env.KeyMemoryDB,
	"listen":             env.KeyListen,
	"listen-metrics":     env.KeyMetricsListen,
	"csrf":               env.KeyCSRF,
	"assistant-provider": env.KeyAssistantProvider,
	"assistant-model":    env.KeyAssistantModel,
}

func main() {
	// Add some millisecond precision to log timestamps, useful for debugging performance.
	formatter := new(log.TextFormatter)
	formatter.TimestampFormat = "2006-01-02T15:04:05.999Z07:00"
	formatter.FullTimestamp = true
	log.SetFormatter(formatter)

	rootCmd.AddCommand(
		NewServeCommand(),
		NewReconcileCommand(),
		NewVacuumCommand(),
		NewVersionCommand(),
	)

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level (trace,debug,info,warn,error) (default info)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Config file (default forkchat.yaml in the data directory or the working directory)")

	err := rootCmd.Execute()
	if err != nil {
		log.WithError(err).Fatal("could not execute root command")
	}
}

// bindStorageFlags adds the flags every command needs to find the database.
func bindStorageFlags(flagSet *pflag.FlagSet) {
	flagSet.String("data-dir", "", "Directory for the database and config file (default forkchat-data)")
	flagSet.String("db", "", "Database file (default forkchat.db in the data directory)")
	flagSet.Bool("memory-db", false, "Keep everything in memory; nothing survives a restart")
}

// loadConfig builds the configuration from defaults, the config file, FORKCHAT_*
// variables and the flags of the running command, in increasing precedence.
func loadConfig(flagSet *pflag.FlagSet) (*env.EnvConfig, *viper.Viper, error) {
	v := env.NewViper(configFile)
	var bindErr error
	flagSet.VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return nil, nil, bindErr
	}

	config, err := env.Load(v)
	if err != nil {
		return nil, nil, err
	}
	return config, v, nil
}

// openDatabase opens the configured database, refusing network filesystems.
func openDatabase(ctx context.Context, config *env.EnvConfig) (*database.Database, error) {
	if config.UseMemoryDB() {
		log.Println("Using in-memory database.")
		return database.InitDB(ctx, database.MemoryDSN("forkchat"))
	}

	dbPath := config.DBPath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	if err := checkNetworkFilesystem(dbPath); err != nil {
		return nil, err
	}
	return database.InitDB(ctx, database.FileDSN(dbPath))
}

func checkNetworkFilesystem(dbPath string) error {
	isNetwork, fsType, err := database.IsNetworkFilesystem(dbPath)
	if err != nil {
		log.Printf("Warning: Could not determine if %s is on a network filesystem: %v", dbPath, err)
		return nil
	}
	if isNetwork {
		if fsType != "" {
			fsType = fmt.Sprintf(" (%s)", fsType)
		}
		return fmt.Errorf("%s is located on a network filesystem%s, where SQLite locking is unreliable; please move it to a local drive", dbPath, fsType)
	}
	return nil
}
