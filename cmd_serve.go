package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lifthrasiir/forkchat/internal/chat"
	"github.com/lifthrasiir/forkchat/internal/database"
	"github.com/lifthrasiir/forkchat/internal/env"
	"github.com/lifthrasiir/forkchat/internal/llm"
	"github.com/lifthrasiir/forkchat/internal/server"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the forkchat API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, v, err := loadConfig(cmd.Flags())
			if err != nil {
				return errors.WithMessage(err, "could not load configuration")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = env.ContextWithEnvConfig(ctx, config)

			db, err := openDatabase(ctx, config)
			if err != nil {
				return errors.WithMessage(err, "could not open database")
			}
			defer db.Close()

			assistant, err := llm.New(config)
			if err != nil {
				return errors.WithMessage(err, "could not create assistant")
			}
			service := chat.NewService(db, assistant, config)

			var csrfKey []byte
			if config.CSRF() {
				if csrfKey, err = server.LoadCSRFKey(ctx, db); err != nil {
					return errors.WithMessage(err, "could not load CSRF key")
				}
			}

			if config.ConfigFile() != "" {
				watcher, err := env.NewConfigWatcher(config, v, func(c *env.EnvConfig) {
					log.WithFields(log.Fields{
						"model":   c.AssistantModel(),
						"timeout": c.AssistantTimeout(),
						"retries": c.EditRetries(),
					}).Info("Configuration reloaded")
				})
				if err != nil {
					return errors.WithMessage(err, "could not watch config file")
				}
				if err := watcher.Start(); err != nil {
					log.Printf("Warning: config file changes will not be picked up: %v", err)
				} else {
					defer watcher.Stop()
				}
			}

			housekeeping := server.NewHousekeeping(config.HousekeepingInterval(),
				database.Job(db),
				chat.ReconcileJob(service),
			)
			housekeeping.Start()
			defer housekeeping.Stop()

			router := server.NewRouter(db, service, config, csrfKey)
			return errors.WithMessage(server.Serve(ctx, config, router), "server failed")
		},
	}

	flagSet := cmd.Flags()
	bindStorageFlags(flagSet)
	flagSet.String("listen", "", "The address to serve the API on (default :8080)")
	flagSet.String("listen-metrics", "", "The address to serve prometheus metrics on (default :2112)")
	flagSet.Bool("csrf", false, "Require a CSRF token on state-changing requests")
	flagSet.String("assistant-provider", "", "Assistant provider: echo or openai (default echo)")
	flagSet.String("assistant-model", "", "Model name passed to the assistant provider")
	return cmd
}
