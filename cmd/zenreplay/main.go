// zenreplay rebuilds partition state from a JSON lines record log.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	outputFile    string
	processIds    []string
	variablesJson string
	showPending   bool
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "zenreplay",
	Short: "zenreplay - replay partition record logs",
	Long: `zenreplay applies the events of a JSON lines record log to an empty state.

Replaying the same log always produces the same state, two logs of the same
partition can be compared by their replayed state.`,
	Version:      fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage: true,
}

var stateCmd = &cobra.Command{
	Use:   "state [log-file]",
	Short: "Print the state replayed from a log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printState(cmd.OutOrStdout(), args[0], showPending)
	},
}

var recordsCmd = &cobra.Command{
	Use:   "records [log-file]",
	Short: "Print the records of a log one per line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printRecords(cmd.OutOrStdout(), args[0])
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare [log-file] [log-file]",
	Short: "Fail when two logs replay to different states",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return compareLogs(cmd.OutOrStdout(), args[0], args[1])
	},
}

var recordCmd = &cobra.Command{
	Use:   "record [definition-file...]",
	Short: "Deploy definitions, start instances and write the produced log",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return recordLog(cmd.Context(), outputFile, args, processIds, variablesJson)
	},
}

func init() {
	stateCmd.Flags().BoolVar(&showPending, "pending", false, "Also print the commands written but not processed")

	recordCmd.Flags().StringVarP(&outputFile, "output", "o", "records.jsonl", "Log file to write")
	recordCmd.Flags().StringSliceVarP(&processIds, "process", "p", nil, "Process ids to create an instance of")
	recordCmd.Flags().StringVar(&variablesJson, "variables", "", "Variables of the created instances as a JSON object")

	rootCmd.AddCommand(stateCmd, recordsCmd, compareCmd, recordCmd)
}
