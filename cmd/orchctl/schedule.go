package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/unlock/orchestration-service/internal/domain"
)

func (c *cli) scheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring workflow schedules",
	}
	cmd.AddCommand(
		c.scheduleApplyCommand(),
		c.scheduleStateCommand("pause", "Pause a schedule", func(c *cli, cmd *cobra.Command, id, note string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			return c.scheduler.Pause(ctx, id, note)
		}),
		c.scheduleStateCommand("resume", "Resume a paused schedule", func(c *cli, cmd *cobra.Command, id, note string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			return c.scheduler.Resume(ctx, id, note)
		}),
		&cobra.Command{
			Use:   "delete ID",
			Short: "Delete a schedule; runs it already started keep running",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := c.context(cmd)
				defer cancel()
				id := domain.NormalizeScheduleID(args[0])
				if err := c.scheduler.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "schedule %s deleted\n", id)
				return nil
			},
		},
		&cobra.Command{
			Use:   "describe ID",
			Short: "Show a schedule's definition, next fire times and recent runs",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := c.context(cmd)
				defer cancel()
				desc, err := c.scheduler.Describe(ctx, domain.NormalizeScheduleID(args[0]))
				if err != nil {
					return err
				}
				return c.printJSON(desc)
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List schedules",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, cancel := c.context(cmd)
				defer cancel()
				defs, err := c.scheduler.List(ctx)
				if err != nil {
					return err
				}
				return c.printJSON(defs)
			},
		},
	)
	return cmd
}

func (c *cli) scheduleApplyCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply -f FILE",
		Short: "Register the schedules defined in a YAML file",
		Long: "Register every schedule document in FILE. Schedules that already " +
			"exist are left unchanged; delete and re-apply to change one.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open schedule file: %w", err)
			}
			defer f.Close()

			defs, err := parseDefinitions(f)
			if err != nil {
				return err
			}

			ctx, cancel := c.context(cmd)
			defer cancel()
			for _, def := range defs {
				if c.tenant != "" && def.TenantID != c.tenant {
					return fmt.Errorf("schedule %q belongs to tenant %q, not %q", def.ID, def.TenantID, c.tenant)
				}
				id, err := c.scheduler.Create(ctx, def)
				if err != nil {
					return fmt.Errorf("apply schedule %q: %w", def.ID, err)
				}
				fmt.Fprintf(c.out, "schedule %s applied\n", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file of schedule definitions")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (c *cli) scheduleStateCommand(verb, short string, change func(c *cli, cmd *cobra.Command, id, note string) error) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   verb + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.NormalizeScheduleID(args[0])
			if err := change(c, cmd, id, note); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "schedule %s %sd\n", id, verb)
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "Reason recorded on the schedule")
	return cmd
}
