package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"agora/internal/app/bootstrap"
)

func main() {
	root := &cobra.Command{
		Use:           "agora",
		Short:         "Token-weighted governance services",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), workerCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("agora: %v", err)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := bootstrap.BuildAPI()
			if err != nil {
				return err
			}
			defer closeQuietly(app)
			return app.Run(signalContext(cmd.Context()))
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run outbox relays and event consumers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := bootstrap.BuildWorker()
			if err != nil {
				return err
			}
			defer closeQuietly(app)
			return app.Run(signalContext(cmd.Context()))
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			applied, err := bootstrap.RunMigrations()
			if err != nil {
				return err
			}
			log.Printf("applied %d migrations", applied)
			return nil
		},
	}
}

type closer interface {
	Close() error
}

func closeQuietly(c closer) {
	if err := c.Close(); err != nil {
		log.Printf("shutdown close failed: %v", err)
	}
}

func signalContext(parent context.Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	ctx, _ := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	return ctx
}
