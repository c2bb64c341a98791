package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func (c *cli) runsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect workflow runs",
	}

	var output string
	history := &cobra.Command{
		Use:   "history WORKFLOW_ID",
		Short: "Export the event history of a run for replay tests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			data, err := c.engine.History(ctx, args[0])
			if err != nil {
				return err
			}
			if output == "" {
				_, err = c.out.Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write history: %w", err)
			}
			fmt.Fprintf(c.out, "history of %s written to %s\n", args[0], output)
			return nil
		},
	}
	history.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")

	status := &cobra.Command{
		Use:   "status WORKFLOW_ID",
		Short: "Show the status and progress of the latest run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			view, err := c.engine.Query(ctx, args[0])
			if err != nil {
				return err
			}
			return c.printJSON(view)
		},
	}

	cancelRun := &cobra.Command{
		Use:   "cancel WORKFLOW_ID",
		Short: "Request cancellation of a running workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			if err := c.engine.Cancel(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "cancellation of %s requested\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(history, status, cancelRun)
	return cmd
}
