package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/contact-traces/core"
)

// kindFlag adds the --kind flag with the kinds a command accepts.
func kindFlag(cmd *cobra.Command, def string, kinds ...string) *string {
	return cmd.Flags().String("kind", def, fmt.Sprintf("input couple kind (%v)", kinds))
}

func badKind(kind string) error {
	return fmt.Errorf("%w: unsupported kind %q", core.ErrBadParameter, kind)
}

func (c *CLI) componentsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "components <input> <output>",
		Short: "Track connected components of an edges or links trace as groups",
		Args:  cobra.ExactArgs(2),
	}
	kind := kindFlag(cmd, "edges", "edges", "links")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.run(cmd, func(ctx context.Context) error {
			switch *kind {
			case "edges":
				return c.convert(ctx, core.NewEdgesToConnectedComponents(c.store, args[0], args[1]))
			case "links":
				return c.convert(ctx, core.NewLinksToConnectedComponents(c.store, args[0], args[1]))
			}
			return badKind(*kind)
		})
	}
	return cmd
}

func (c *CLI) bufferCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buffer <input> <output>",
		Short: "Advance UP events and delay DOWN events of a couple trace",
		Args:  cobra.ExactArgs(2),
	}
	kind := kindFlag(cmd, "edges", "edges", "links", "arcs")
	cmd.Flags().Int64("before", 0, "time units each UP is moved earlier")
	cmd.Flags().Int64("after", 0, "time units each DOWN is moved later")
	cmd.Flags().Bool("randomize", false, "draw each offset uniformly from [0, before] / [0, after]")
	cmd.Flags().Uint64("seed", 0, "random seed used with --randomize")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.run(cmd, func(ctx context.Context) error {
			d := c.cfg.Defaults
			before, err := int64Param(cmd, "before", d.Before)
			if err != nil {
				return err
			}
			after, err := int64Param(cmd, "after", d.After)
			if err != nil {
				return err
			}
			randomize, err := boolParam(cmd, "randomize", d.Randomize)
			if err != nil {
				return err
			}
			seed, err := uint64Param(cmd, "seed", d.Seed)
			if err != nil {
				return err
			}
			switch *kind {
			case "edges":
				b := core.NewBufferEdges(c.store, args[0], args[1], before, after)
				b.Randomize, b.Seed = randomize, seed
				return c.convert(ctx, b)
			case "links":
				b := core.NewBufferLinks(c.store, args[0], args[1], before, after)
				b.Randomize, b.Seed = randomize, seed
				return c.convert(ctx, b)
			case "arcs":
				b := core.NewBufferArcs(c.store, args[0], args[1], before, after)
				b.Randomize, b.Seed = randomize, seed
				return c.convert(ctx, b)
			}
			return badKind(*kind)
		})
	}
	return cmd
}

func (c *CLI) reachableCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reachable <input> <output>",
		Short: "Build the one-hop reachability trace of an edges or links trace",
		Args:  cobra.ExactArgs(2),
	}
	kind := kindFlag(cmd, "edges", "edges", "links")
	cmd.Flags().Int64("tau", 0, "per-hop transmission delay")
	cmd.Flags().Int64("eta", 0, "time quantum")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.run(cmd, func(ctx context.Context) error {
			tau, err := int64Param(cmd, "tau", c.cfg.Defaults.Tau)
			if err != nil {
				return err
			}
			eta, err := int64Param(cmd, "eta", c.cfg.Defaults.Eta)
			if err != nil {
				return err
			}
			switch *kind {
			case "edges":
				return c.convert(ctx, core.NewEdgesToReachable(c.store, args[0], args[1], tau, eta))
			case "links":
				return c.convert(ctx, core.NewLinksToReachable(c.store, args[0], args[1], tau, eta))
			}
			return badKind(*kind)
		})
	}
	return cmd
}

func (c *CLI) upperCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upper <input> <output>",
		Short: "Widen a reachability trace to a larger delay",
		Args:  cobra.ExactArgs(2),
	}
	cmd.Flags().Int64("delay", 0, "target delay")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.run(cmd, func(ctx context.Context) error {
			delay, err := int64Param(cmd, "delay", c.cfg.Defaults.Delay)
			if err != nil {
				return err
			}
			return c.convert(ctx, core.NewUpperReachable(c.store, args[0], args[1], delay))
		})
	}
	return cmd
}

func (c *CLI) componentsReachableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cc-reachable <input> <output>",
		Short: "Turn a groups trace into the reachability of nodes sharing a component",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context) error {
				return c.convert(ctx, core.NewComponentsToReachable(c.store, args[0], args[1]))
			})
		},
	}
}

func (c *CLI) addingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adding <delta-prefix> <mu-prefix> <output>",
		Short: "Compose two reachability families into the trace for one delay",
		Args:  cobra.ExactArgs(3),
	}
	cmd.Flags().Int64("delay", 0, "delay of the composed trace")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.run(cmd, func(ctx context.Context) error {
			delay, err := int64Param(cmd, "delay", c.cfg.Defaults.Delay)
			if err != nil {
				return err
			}
			delta, err := core.OpenFamily(c.store, args[0])
			if err != nil {
				return err
			}
			mu, err := core.OpenFamily(c.store, args[1])
			if err != nil {
				return err
			}
			return c.convert(ctx, core.NewAddingReachable(c.store, delta, mu, args[2], delay))
		})
	}
	return cmd
}

func (c *CLI) familyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "family <input> <prefix>",
		Short: "Build a reachability family for every delay from tau up to --max-delay",
		Args:  cobra.ExactArgs(2),
	}
	cmd.Flags().Int64("tau", 0, "per-hop transmission delay")
	cmd.Flags().Int64("eta", 0, "time quantum")
	cmd.Flags().Int64("max-delay", 0, "largest member delay (default: --delay from the config)")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.run(cmd, func(ctx context.Context) error {
			tau, err := int64Param(cmd, "tau", c.cfg.Defaults.Tau)
			if err != nil {
				return err
			}
			eta, err := int64Param(cmd, "eta", c.cfg.Defaults.Eta)
			if err != nil {
				return err
			}
			maxDelay, err := int64Param(cmd, "max-delay", c.cfg.Defaults.Delay)
			if err != nil {
				return err
			}
			fam, err := core.BuildFamily(ctx, c.store, args[0], args[1], tau, eta, maxDelay)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s %v\n", args[1], fam.Delays())
			return nil
		})
	}
	return cmd
}

func (c *CLI) floodingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flooding <input> <output>",
		Short: "Compute flooding reachability in rounds of --delay",
		Args:  cobra.ExactArgs(2),
	}
	kind := kindFlag(cmd, "edges", "edges", "links")
	presence := cmd.Flags().String("presence", "", "optional presence trace seeding the origins")
	cmd.Flags().Int64("tau", 0, "per-hop transmission delay")
	cmd.Flags().Int64("delay", 0, "round length")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.run(cmd, func(ctx context.Context) error {
			tau, err := int64Param(cmd, "tau", c.cfg.Defaults.Tau)
			if err != nil {
				return err
			}
			delay, err := int64Param(cmd, "delay", c.cfg.Defaults.Delay)
			if err != nil {
				return err
			}
			switch *kind {
			case "edges":
				f := core.NewEdgesFlooding(c.store, args[0], args[1], tau, delay)
				f.Presence = *presence
				return c.convert(ctx, f)
			case "links":
				f := core.NewLinksFlooding(c.store, args[0], args[1], tau, delay)
				f.Presence = *presence
				return c.convert(ctx, f)
			}
			return badKind(*kind)
		})
	}
	return cmd
}

func (c *CLI) dominatingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dominating <input> <output>",
		Short: "Maintain a greedy dominating set of an edges or arcs trace",
		Args:  cobra.ExactArgs(2),
	}
	kind := kindFlag(cmd, "edges", "edges", "arcs")
	presence := cmd.Flags().String("presence", "", "optional presence trace of nodes to dominate")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.run(cmd, func(ctx context.Context) error {
			switch *kind {
			case "edges":
				d := core.NewEdgesToDominatingSet(c.store, args[0], args[1])
				d.Presence = *presence
				return c.convert(ctx, d)
			case "arcs":
				d := core.NewArcsToDominatingSet(c.store, args[0], args[1])
				d.Presence = *presence
				return c.convert(ctx, d)
			}
			return badKind(*kind)
		})
	}
	return cmd
}

func (c *CLI) movementCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "movement <input> <output>",
		Short: "Derive the edges trace of nodes within range of each other",
		Args:  cobra.ExactArgs(2),
	}
	cmd.Flags().Float64("range", 0, "communication range")
	los := cmd.Flags().Bool("los", false, "also require Earth line of sight (ECEF kilometres)")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.run(cmd, func(ctx context.Context) error {
			rng, err := float64Param(cmd, "range", c.cfg.Defaults.Range)
			if err != nil {
				return err
			}
			m := core.NewMovementToEdges(c.store, args[0], args[1], rng)
			m.LineOfSight = *los
			return c.convert(ctx, m)
		})
	}
	return cmd
}

func (c *CLI) orbitsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orbits <tle-file> <output>",
		Short: "Sample TLE orbits with SGP4 into a movement trace",
		Args:  cobra.ExactArgs(2),
	}
	epoch := cmd.Flags().String("epoch", "", "RFC3339 time of trace time 0 (required)")
	start := cmd.Flags().Int64("start", 0, "first sample, in seconds after the epoch")
	end := cmd.Flags().Int64("end", 3600, "last sample, in seconds after the epoch")
	step := cmd.Flags().Int64("step", 60, "sampling step in seconds")
	firstID := cmd.Flags().Int("first-id", 0, "node id of the first orbit")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.run(cmd, func(ctx context.Context) error {
			at, err := time.Parse(time.RFC3339, *epoch)
			if err != nil {
				return fmt.Errorf("%w: epoch: %v", core.ErrBadParameter, err)
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			orbits, err := core.ParseTLE(f)
			if err != nil {
				return err
			}
			nodes, err := core.NodesFromTLE(orbits, *firstID)
			if err != nil {
				return err
			}
			return c.convert(ctx, core.NewOrbitsToMovement(c.store, nodes, args[1], at, *start, *end, *step))
		})
	}
	return cmd
}

func (c *CLI) recastCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recast <input> <output>",
		Short: "Rewrite a couple trace as another couple kind",
		Args:  cobra.ExactArgs(2),
	}
	from := cmd.Flags().String("from", "arcs", "input kind (arcs, edges, links)")
	to := cmd.Flags().String("to", "edges", "output kind (arcs, edges, links)")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.run(cmd, func(ctx context.Context) error {
			switch *from + ">" + *to {
			case "arcs>edges":
				return c.convert(ctx, core.NewArcsToEdges(c.store, args[0], args[1]))
			case "edges>arcs":
				return c.convert(ctx, core.NewEdgesToArcs(c.store, args[0], args[1]))
			case "links>edges":
				return c.convert(ctx, core.NewLinksToEdges(c.store, args[0], args[1]))
			case "edges>links":
				return c.convert(ctx, core.NewEdgesToLinks(c.store, args[0], args[1]))
			}
			return fmt.Errorf("%w: cannot recast %s to %s", core.ErrBadParameter, *from, *to)
		})
	}
	return cmd
}

func (c *CLI) presenceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presence <input> <output>",
		Short: "Derive node presence from couple participation",
		Args:  cobra.ExactArgs(2),
	}
	kind := kindFlag(cmd, "edges", "edges", "links", "arcs")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.run(cmd, func(ctx context.Context) error {
			switch *kind {
			case "edges":
				return c.convert(ctx, core.NewEdgesToPresence(c.store, args[0], args[1]))
			case "links":
				return c.convert(ctx, core.NewLinksToPresence(c.store, args[0], args[1]))
			case "arcs":
				return c.convert(ctx, core.NewArcsToPresence(c.store, args[0], args[1]))
			}
			return badKind(*kind)
		})
	}
	return cmd
}
