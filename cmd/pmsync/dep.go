package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/semfora/pmsync/internal/graph"
	"github.com/semfora/pmsync/internal/store"
	"github.com/semfora/pmsync/internal/types"
)

var (
	flagDepRelation   string
	flagDepRmRelation string
	flagDepBoth       bool
	flagDepStrength   string
	flagDepDepth      int
	flagDepResolved   bool
	flagGraphRoot     string
	flagGraphDepth    int
	flagReadyLimit    int
)

var depCmd = &cobra.Command{
	Use:   "dep",
	Short: "Manage and query the dependency graph",
}

// resolveRef accepts either a provider id or a local item id.
func resolveRef(cmd *cobra.Command, st *store.Store, id string) (types.ItemRef, error) {
	item, err := st.GetItemByProviderID(cmd.Context(), id)
	if err == nil {
		return item.Ref(), nil
	}
	if !store.IsNotFound(err) {
		return types.ItemRef{}, err
	}
	item, err = st.GetItem(cmd.Context(), types.KindLocal, id)
	if err != nil {
		return types.ItemRef{}, err
	}
	return item.Ref(), nil
}

var depAddCmd = &cobra.Command{
	Use:   "add <source> <target>",
	Short: "Add a dependency edge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openProject(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		source, err := resolveRef(cmd, st, args[0])
		if err != nil {
			return err
		}
		target, err := resolveRef(cmd, st, args[1])
		if err != nil {
			return err
		}

		edge := types.DependencyEdge{
			Source:   source,
			Target:   target,
			Relation: types.Relation(flagDepRelation),
			Strength: types.Strength(flagDepStrength),
		}
		eng := graph.New(st, logger)
		if err := eng.AddEdge(cmd.Context(), edge, flagDepBoth); err != nil {
			return err
		}
		fmt.Printf("%s -[%s]-> %s\n", idStyle.Render(args[0]),
			edge.Relation, idStyle.Render(args[1]))
		return nil
	},
}

var depRemoveCmd = &cobra.Command{
	Use:   "remove <source> <target>",
	Short: "Remove dependency edges between two items",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openProject(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		source, err := resolveRef(cmd, st, args[0])
		if err != nil {
			return err
		}
		target, err := resolveRef(cmd, st, args[1])
		if err != nil {
			return err
		}

		eng := graph.New(st, logger)
		removed, err := eng.RemoveEdge(cmd.Context(), source, target,
			types.Relation(flagDepRmRelation), flagDepBoth)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d edge(s)\n", removed)
		return nil
	},
}

var depBlockersCmd = &cobra.Command{
	Use:   "blockers <id>",
	Short: "Show what transitively blocks an item",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runTraversal(cmd, args[0], true) },
}

var depDependentsCmd = &cobra.Command{
	Use:   "dependents <id>",
	Short: "Show what an item transitively blocks",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runTraversal(cmd, args[0], false) },
}

func runTraversal(cmd *cobra.Command, id string, blockers bool) error {
	st, _, err := openProject(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	ref, err := resolveRef(cmd, st, id)
	if err != nil {
		return err
	}
	eng := graph.New(st, logger)

	var result []graph.Blocker
	if blockers {
		result, err = eng.Blockers(cmd.Context(), ref, flagDepDepth, flagDepResolved)
	} else {
		result, err = eng.Dependents(cmd.Context(), ref, flagDepDepth, flagDepResolved)
	}
	if err != nil {
		return err
	}
	if len(result) == 0 {
		fmt.Println(okStyle.Render("None."))
		return nil
	}
	for _, b := range result {
		indent := strings.Repeat("  ", b.Depth-1)
		line := fmt.Sprintf("%s%s %s", indent, blockedStyle.Render("↳"), renderItem(b.Item))
		if b.Resolved {
			line += dimStyle.Render(" (resolved)")
		}
		fmt.Println(line)
	}
	return nil
}

var depGraphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Analyze the dependency graph: cycles, orphans, dangling refs",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openProject(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		var root *types.ItemRef
		if flagGraphRoot != "" {
			ref, err := resolveRef(cmd, st, flagGraphRoot)
			if err != nil {
				return err
			}
			root = &ref
		}

		eng := graph.New(st, logger)
		snap, err := eng.BuildGraph(cmd.Context(), root, flagGraphDepth)
		if err != nil {
			return err
		}
		fmt.Printf("%d item(s), %d edge(s)\n", len(snap.Items), len(snap.Edges))

		if len(snap.Cycles) == 0 {
			fmt.Println(okStyle.Render("No cycles."))
		}
		for _, cycle := range snap.Cycles {
			keys := make([]string, 0, len(cycle)+1)
			for _, ref := range cycle {
				keys = append(keys, ref.ID)
			}
			keys = append(keys, cycle[0].ID)
			fmt.Println(errStyle.Render("cycle: " + strings.Join(keys, " -> ")))
		}
		for _, orphan := range snap.Orphans {
			fmt.Println(dimStyle.Render("no edges: " + orphan.Key()))
		}
		for _, ref := range snap.Dangling {
			fmt.Println(warnStyle.Render("dangling endpoint: " + ref.Key()))
		}
		return nil
	},
}

var readyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List unresolved items with no unresolved blockers",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openProject(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		eng := graph.New(st, logger)
		items, err := eng.ReadyWork(cmd.Context(), flagReadyLimit)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println(dimStyle.Render("Nothing is ready."))
			return nil
		}
		for _, item := range items {
			fmt.Println(renderItem(item))
		}
		return nil
	},
}

func init() {
	depCmd.PersistentFlags().BoolVar(&flagDepBoth, "both", false,
		"also write or remove the inverse edge")
	depAddCmd.Flags().StringVar(&flagDepRelation, "relation", "blocks",
		"edge relation: blocks, parent_of, discovered_from, related_to")
	depAddCmd.Flags().StringVar(&flagDepStrength, "strength", "",
		"related_to strength: weak, normal, strong")
	depRemoveCmd.Flags().StringVar(&flagDepRmRelation, "relation", "",
		"edge relation to remove (default removes every relation between the pair)")
	depBlockersCmd.Flags().IntVar(&flagDepDepth, "depth", 0, "traversal depth (max 10)")
	depDependentsCmd.Flags().IntVar(&flagDepDepth, "depth", 0, "traversal depth (max 10)")
	depBlockersCmd.Flags().BoolVar(&flagDepResolved, "resolved", false,
		"include already-resolved items and traverse through them")
	depDependentsCmd.Flags().BoolVar(&flagDepResolved, "resolved", false,
		"include already-resolved items and traverse through them")
	depGraphCmd.Flags().StringVar(&flagGraphRoot, "root", "",
		"limit the graph to items reachable from this item")
	depGraphCmd.Flags().IntVar(&flagGraphDepth, "depth", 0,
		"reachability depth when --root is set (max 10)")
	readyCmd.Flags().IntVar(&flagReadyLimit, "limit", 0, "maximum items to show")

	depCmd.AddCommand(depAddCmd, depRemoveCmd, depBlockersCmd, depDependentsCmd, depGraphCmd)
	rootCmd.AddCommand(depCmd, readyCmd)
}
