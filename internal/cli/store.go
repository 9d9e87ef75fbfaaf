package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/contact-traces/internal/logging"
	"github.com/signalsfoundry/contact-traces/report"
)

func (c *CLI) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the traces in the store with their types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context) error {
				names, err := c.store.List()
				if err != nil {
					return err
				}
				for _, name := range names {
					typ, err := c.store.TypeOf(name)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.out, "%s\t%s\n", name, typ)
				}
				return nil
			})
		},
	}
}

func (c *CLI) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>...",
		Short: "Delete traces from the store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context) error {
				for _, name := range args {
					if err := c.store.Delete(name); err != nil {
						return fmt.Errorf("delete %q: %w", name, err)
					}
					logging.LoggerFromContext(ctx).Info(ctx, "trace deleted", logging.String("trace", name))
				}
				return nil
			})
		},
	}
}

func (c *CLI) reportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write text statistics about a trace",
	}
	cmd.AddCommand(c.contactsReportCommand())
	cmd.AddCommand(c.degreeReportCommand())
	return cmd
}

func (c *CLI) contactsReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts <input>",
		Short: "List every contact as: from to start end duration",
		Args:  cobra.ExactArgs(1),
	}
	kind := kindFlag(cmd, "edges", "edges", "links", "arcs")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.run(cmd, func(ctx context.Context) error {
			var r report.Report
			switch *kind {
			case "edges":
				r = report.NewEdgeContacts(c.store, args[0])
			case "links":
				r = report.NewLinkContacts(c.store, args[0])
			case "arcs":
				r = report.NewArcContacts(c.store, args[0])
			default:
				return badKind(*kind)
			}
			return r.Write(ctx, c.out)
		})
	}
	return cmd
}

func (c *CLI) degreeReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "degree <input>",
		Short: "Write the time-averaged degree of every node",
		Args:  cobra.ExactArgs(1),
	}
	kind := kindFlag(cmd, "edges", "edges", "links")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.run(cmd, func(ctx context.Context) error {
			var r report.Report
			switch *kind {
			case "edges":
				r = report.NewEdgeDegree(c.store, args[0])
			case "links":
				r = report.NewLinkDegree(c.store, args[0])
			default:
				return badKind(*kind)
			}
			return r.Write(ctx, c.out)
		})
	}
	return cmd
}
