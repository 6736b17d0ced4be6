// Command biopatrol runs the mobile hospital robot patrol runtime: a
// Fleet Gateway, Task Dispatcher, per-robot Task Engines, and the minimal
// HTTP submission surface, wired together by internal/runtime.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"biopatrol/internal/fleet"
	"biopatrol/internal/httpapi"
	"biopatrol/internal/runtime"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "biopatrol: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "biopatrol",
		Short: "Bio Patrol task runtime",
		Long: `biopatrol runs the mobile hospital robot patrol task runtime.

It dispatches submitted patrol tasks to registered robots, drives each
task through its steps against the robot's RPC interface, watches for a
dropped shelf in the background, and records bio-sensor scans as it goes.`,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newSubmitCommand())

	return root
}

// newServeCommand starts the dispatcher, one Task Worker per configured
// robot, and the HTTP submission surface, then blocks until an interrupt
// signal triggers a graceful shutdown.
func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the dispatcher and HTTP submission surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := runtime.Build()
			if err != nil {
				return fmt.Errorf("build runtime: %w", err)
			}

			// The robot RPC wire protocol is out of scope: every configured
			// robot id is backed by a scriptable fake client rather than a
			// real transport, so the loop has something to dispatch to.
			for _, robotID := range container.Config.Robots {
				container.RegisterRobot(robotID, fleet.NewFakeClient())
				container.Logger.Info("registered robot %s", robotID)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			container.Start(ctx)

			server := httpapi.New(httpapi.Config{BindAddress: container.Config.HTTP.BindAddress}, container.Dispatcher, container.Logger)

			serveErrs := make(chan error, 1)
			go func() {
				serveErrs <- server.Start()
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-serveErrs:
				if err != nil {
					container.Logger.Error("http server exited: %v", err)
				}
			case <-quit:
				container.Logger.Info("shutting down")
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := server.Stop(shutdownCtx); err != nil {
				container.Logger.Warn("http server shutdown: %v", err)
			}

			cancel()
			return container.Cleanup()
		},
	}
}

// newSubmitCommand posts a task JSON document (§6 wire shape) to a
// running serve instance and prints the assigned task id.
func newSubmitCommand() *cobra.Command {
	var addr string
	var file string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a task to a running biopatrol server",
		RunE: func(cmd *cobra.Command, args []string) error {
			var body io.Reader
			if file == "" || file == "-" {
				body = os.Stdin
			} else {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open task file: %w", err)
				}
				defer f.Close()
				body = f
			}

			url := strings.TrimRight(addr, "/") + "/api/tasks"
			resp, err := http.Post(url, "application/json", body)
			if err != nil {
				return fmt.Errorf("submit task: %w", err)
			}
			defer resp.Body.Close()

			var envelope httpapi.APIResponse
			if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			if !envelope.Success {
				return fmt.Errorf("server rejected task: %s", envelope.Error)
			}
			fmt.Printf("%v\n", envelope.Data)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "biopatrol server base URL")
	cmd.Flags().StringVar(&file, "file", "-", "task JSON file, or - for stdin")
	return cmd
}
