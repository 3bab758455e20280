package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the flowforge HTTP server",
	Long:  `Starts the flow engine, session store, job worker and outbox poller, exposing the chat/flow/debug JSON API over HTTP.`,
	Run: func(cmd *cobra.Command, args []string) {
		flowDir, _ := cmd.Flags().GetString("flow-dir")

		a, err := buildApp(flowDir)
		if err != nil {
			fmt.Printf("Error initializing flowforge: %v\n", err)
			os.Exit(1)
		}

		ctx, cancelPoller := context.WithCancel(context.Background())
		defer cancelPoller()
		go a.poller.Run(ctx)

		srv := &http.Server{
			Addr:    a.cfg.ListenAddr,
			Handler: a.server.NewRouter(),
		}

		serverErrors := make(chan error, 1)
		go func() {
			fmt.Printf("Starting flowforge server on %s\n", srv.Addr)
			fmt.Printf("Serving flows from: %v\n", a.cfg.FlowDirs)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)

		case sig := <-shutdown:
			fmt.Printf("\nStart shutdown... Signal: %v\n", sig)
			cancelPoller()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				fmt.Printf("Graceful shutdown did not complete in %v: %v\n", 5*time.Second, err)
				if err := srv.Close(); err != nil {
					fmt.Printf("Error killing server: %v\n", err)
				}
			}
			fmt.Println("flowforge server stopped gracefully")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
