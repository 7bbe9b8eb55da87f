// Command server runs the plugin runtime: it boots the service locator
// from internal/boot and offers serve/migrate/plugins subcommands,
// grounded on the teacher's cmd/main.go entry point, restructured around
// cobra the way solaius-kf-reg's kubeflow-model-registry CLI is, instead
// of the teacher's flat flag-parsing main.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/streamspace/pluginrt/internal/boot"
	"github.com/streamspace/pluginrt/internal/logger"
)

var envSource string

func main() {
	root := &cobra.Command{
		Use:   "server",
		Short: "Runs the plugin runtime's HTTP server and background schedulers.",
	}
	root.PersistentFlags().StringVar(&envSource, "env-dir", ".", "directory to look for env.json/env.<id>.json/env.<id>.toml in")

	root.AddCommand(serveCmd(), migrateCmd(), pluginsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP server, plugin catalog sync, and task scheduler.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := boot.New(envSource)
			if err != nil {
				return err
			}
			if err := rt.Start(); err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			logger.Log.Info().Msg("shutting down")
			return rt.Stop(context.Background())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies pending database schema migrations and exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := boot.New(envSource)
			if err != nil {
				return err
			}
			fmt.Println("database migrated")
			_ = rt
			return nil
		},
	}
}

func pluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect the plugin catalog.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Lists every registered plugin and its active state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := boot.New(envSource)
			if err != nil {
				return err
			}
			if err := rt.Discovery.Scan(nil); err != nil {
				return err
			}
			if err := rt.Catalog.Start(map[string]interface{}{}); err != nil {
				return err
			}
			for _, p := range rt.Catalog.List() {
				fmt.Printf("%-30s v%-10s active=%v\n", p.ID, p.Version.Plugin, p.Active)
			}
			return nil
		},
	})
	return cmd
}
