package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semfora/pmsync/internal/reconcile"
	"github.com/semfora/pmsync/internal/types"
)

var (
	flagFull  bool
	flagForce bool
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull remote items into the local cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, entry, err := openProject(cmd)
		if err != nil {
			return err
		}
		defer st.Close()
		rec, err := newReconciler(st, entry)
		if err != nil {
			return err
		}

		result, err := rec.Pull(cmd.Context(), flagFull)
		if err != nil {
			return err
		}
		fmt.Printf("%s %d created, %d updated, %d deleted\n",
			okStyle.Render("Pulled:"), result.Created, result.Updated, result.Deleted)
		for _, e := range result.Errors {
			fmt.Println(errStyle.Render("  ! " + e))
		}
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push queued local changes to the provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, entry, err := openProject(cmd)
		if err != nil {
			return err
		}
		defer st.Close()
		rec, err := newReconciler(st, entry)
		if err != nil {
			return err
		}

		result, err := rec.Push(cmd.Context(), flagForce)
		if err != nil {
			return err
		}
		fmt.Printf("%s %d pushed, %d skipped, %d conflicts, %d failed\n",
			okStyle.Render("Pushed:"), result.Pushed, result.Skipped,
			result.Conflicts, result.Failed)
		for _, e := range result.Errors {
			fmt.Println(errStyle.Render("  ! " + e))
		}
		if result.Conflicts > 0 {
			fmt.Println(warnStyle.Render("Run 'pmsync resolve' to settle conflicts."))
		}
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [change-id] [keep_local|keep_remote|merge]",
	Short: "List or settle sync conflicts",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, entry, err := openProject(cmd)
		if err != nil {
			return err
		}
		defer st.Close()
		rec, err := newReconciler(st, entry)
		if err != nil {
			return err
		}

		if len(args) == 0 {
			conflicts, err := rec.Conflicts(cmd.Context())
			if err != nil {
				return err
			}
			if len(conflicts) == 0 {
				fmt.Println(okStyle.Render("No conflicts."))
				return nil
			}
			for _, c := range conflicts {
				fmt.Printf("%s  %s %s\n", idStyle.Render(c.ID),
					c.ProviderID, dimStyle.Render(c.LastError))
			}
			return nil
		}
		if len(args) != 2 {
			return fmt.Errorf("usage: pmsync resolve <change-id> <keep_local|keep_remote|merge>")
		}

		resolution := reconcile.Resolution(args[1])
		if err := rec.ResolveConflict(cmd.Context(), args[0], resolution); err != nil {
			return err
		}
		fmt.Println(okStyle.Render("Resolved."))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending changes and recent sync history",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openProject(cmd)
		if err != nil {
			return err
		}
		defer st.Close()
		ctx := cmd.Context()

		pending, err := st.ListChanges(ctx, types.ChangePending)
		if err != nil {
			return err
		}
		failed, err := st.ListChanges(ctx, types.ChangeFailed)
		if err != nil {
			return err
		}

		fmt.Printf("%s %d pending, %d failed\n",
			titleStyle.Render("Changes:"), len(pending), len(failed))
		for _, c := range pending {
			marker := ""
			if c.Conflict {
				marker = warnStyle.Render(" [conflict]")
			}
			fmt.Printf("  %s %s %s (attempt %d)%s\n", idStyle.Render(c.ID),
				c.ProviderID, c.ChangeType, c.Attempts, marker)
		}
		for _, c := range failed {
			fmt.Printf("  %s %s %s %s\n", idStyle.Render(c.ID), c.ProviderID,
				errStyle.Render("failed"), dimStyle.Render(c.LastError))
		}

		entries, err := st.ListSyncLog(ctx, 5)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			fmt.Println(titleStyle.Render("Recent syncs:"))
		}
		for _, e := range entries {
			style := okStyle
			if e.Status != types.SyncSuccess {
				style = warnStyle
			}
			fmt.Printf("  %s %-4s %s  +%d ~%d -%d !%d  %s\n",
				e.StartedAt.Local().Format("Jan 02 15:04"),
				e.Direction, style.Render(string(e.Status)),
				e.ItemsCreated, e.ItemsUpdated, e.ItemsDeleted, e.ItemsFailed,
				dimStyle.Render(e.Duration.String()))
		}
		return nil
	},
}

func init() {
	pullCmd.Flags().BoolVar(&flagFull, "full", false,
		"full resync: fetch everything and mark items deleted remotely as canceled")
	pushCmd.Flags().BoolVar(&flagForce, "force", false,
		"ignore debounce and retry backoff")
	rootCmd.AddCommand(pullCmd, pushCmd, resolveCmd, statusCmd)
}
