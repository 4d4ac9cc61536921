// ============================================================================
// Worker Host - Demonstration Host Process
// ============================================================================
//
// File: cmd/workerhost/main.go
// Purpose: Application entry point: loads a YAML config, registers example
//   handlers, starts the Client, serves Prometheus metrics, and waits for
//   SIGINT/SIGTERM to shut down gracefully.
//
// Command Structure:
//   workerhost
//   ├── run               # Start the worker host
//   │   ├── --config, -c  # Config file path
//   │   └── --metrics-addr
//   └── version           # Print version information
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	client "github.com/unmeshed-io/worker-sdk-go"
	"github.com/unmeshed-io/worker-sdk-go/internal/config"
	"github.com/unmeshed-io/worker-sdk-go/pkg/types"
)

var (
	configFile string
	version    = "0.1.0"
)

func buildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:     "workerhost",
		Short:   "Example host process for the Unmeshed worker SDK",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/worker.yaml", "config file path")
	root.AddCommand(buildRunCommand())
	root.AddCommand(buildVersionCommand())
	return root
}

func buildRunCommand() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the worker host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(configFile, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
	return cmd
}

func buildVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the workerhost version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func runHost(configPath, metricsAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("workerhost: %w", err)
	}

	c, err := client.New(cfg)
	if err != nil {
		return fmt.Errorf("workerhost: %w", err)
	}

	if err := registerExampleHandlers(c); err != nil {
		return fmt.Errorf("workerhost: %w", err)
	}

	go func() {
		http.Handle("/metrics", c.MetricsHandler())
		log.Printf("metrics server listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, nil); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("workerhost: %w", err)
	}
	log.Println("worker host started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down...")
	c.Stop()
	log.Println("worker host stopped")
	return nil
}

// registerExampleHandlers registers one I/O-domain and one CPU-domain
// handler so the host is immediately pollable against a real engine.
func registerExampleHandlers(c *client.Client) error {
	if err := c.RegisterHandler("samples", "echo", echoHandler, 10, types.DomainIO); err != nil {
		return err
	}
	if err := c.RegisterHandler("samples", "compute", computeHandler, 2, types.DomainCPU); err != nil {
		return err
	}
	return nil
}

func echoHandler(ctx context.Context, item *types.WorkItem) (interface{}, error) {
	return map[string]interface{}{"echo": item.InputParam}, nil
}

func computeHandler(ctx context.Context, item *types.WorkItem) (interface{}, error) {
	time.Sleep(10 * time.Millisecond)
	return map[string]interface{}{"computedAt": types.NowMillis()}, nil
}

func main() {
	if err := buildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
