// Command orchestratord embeds the orchestrator core as a standalone
// process: load config, open the store, wire every component, run
// until a shutdown signal. The core itself defines no HTTP/WS surface;
// this binary exists only to prove the wiring boots and shuts down
// cleanly.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/outerlook/orchestratorcore/internal/orchestrator"
	"github.com/outerlook/orchestratorcore/internal/orchestrator/config"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:   "orchestratord",
		Short: "Runs the coding-agent orchestrator core",
		RunE:  run,
	}
	root.Flags().StringVar(&cfgFile, "config", "", "path to config.yaml")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	o, err := orchestrator.New(cfg)
	if err != nil {
		return fmt.Errorf("construct orchestrator: %w", err)
	}
	defer o.Close()

	if err := o.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	<-sig
	fmt.Println("\nreceived shutdown signal, shutting down...")
	cancel()
	return nil
}
