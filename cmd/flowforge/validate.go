package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [ref]",
	Short: "Check flow documents for consistency",
	Long:  `Loads every flow document under the configured flow dirs and reports schema or referential errors. With a ref argument, validates just that document's graph (entry/subflow resolution).`,
	Run: func(cmd *cobra.Command, args []string) {
		flowDir, _ := cmd.Flags().GetString("flow-dir")

		a, err := buildApp(flowDir)
		if err != nil {
			fmt.Printf("Error initializing flowforge: %v\n", err)
			os.Exit(1)
		}

		if len(args) == 0 {
			fmt.Println("Flow documents loaded and passed schema validation ✅")
			return
		}

		doc, err := a.loader.Get(args[0])
		if err != nil {
			fmt.Printf("Validation failed: %v\n", err)
			os.Exit(1)
		}
		valid, msg := a.executor.Validate(doc)
		if !valid {
			fmt.Printf("Validation failed: %s\n", msg)
			os.Exit(1)
		}
		fmt.Printf("Flow %q is valid ✅\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
