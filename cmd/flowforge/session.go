package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// sessionCmd mirrors cmd/trellis/session.go's direct-store inspection
// commands, adapted from Trellis's single content-tree state to
// flowforge's per-session branch/round/job document.
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect sessions stored on disk",
	Long:  `List and inspect chat sessions persisted by the Session Store.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all session ids",
	Run: func(cmd *cobra.Command, args []string) {
		flowDir, _ := cmd.Flags().GetString("flow-dir")
		a, err := buildApp(flowDir)
		if err != nil {
			fmt.Printf("Error initializing flowforge: %v\n", err)
			os.Exit(1)
		}

		ids, err := a.store.ListSessions()
		if err != nil {
			fmt.Printf("Error listing sessions: %v\n", err)
			os.Exit(1)
		}
		if len(ids) == 0 {
			fmt.Println("No sessions found.")
			return
		}
		for _, id := range ids {
			fmt.Println("- " + id)
		}
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Print a session's full document as JSON",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flowDir, _ := cmd.Flags().GetString("flow-dir")
		a, err := buildApp(flowDir)
		if err != nil {
			fmt.Printf("Error initializing flowforge: %v\n", err)
			os.Exit(1)
		}

		sess, err := a.store.LoadSession(args[0])
		if err != nil {
			fmt.Printf("Error loading session %q: %v\n", args[0], err)
			os.Exit(1)
		}

		data, err := json.MarshalIndent(sess, "", "  ")
		if err != nil {
			fmt.Printf("Error marshaling session: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(data))
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd, sessionInspectCmd)
}
