package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "flowforge",
	Short: "Flowforge is an IR-driven workflow engine for LLM-backed interactive fiction",
	Long:  `Flowforge executes versioned flow documents (YAML/JSON) over a dual-state session store, dispatching LLM-chat post-processing through a job queue.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("flow-dir", "", "Directory containing flow documents (overrides FLOWFORGE_FLOW_DIRS)")
}
