package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/semfora/pmsync/internal/store"
	"github.com/semfora/pmsync/internal/types"
)

var (
	flagItemStatus   string
	flagItemAssignee string
	flagItemEpic     string
	flagItemSprint   string
	flagItemLimit    int

	flagAddType     string
	flagAddPriority int
	flagAddAnchor   string
	flagAddNotes    string

	flagEditTitle    string
	flagEditStatus   string
	flagEditPriority int
	flagEditNotes    string
)

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "List, inspect and edit cached items",
}

var itemListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached items",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openProject(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		items, err := st.ListItems(cmd.Context(), store.ItemFilter{
			Status:   flagItemStatus,
			Assignee: flagItemAssignee,
			EpicID:   flagItemEpic,
			SprintID: flagItemSprint,
			Limit:    flagItemLimit,
		})
		if err != nil {
			return err
		}
		for _, item := range items {
			fmt.Println(renderItem(item))
		}
		fmt.Println(dimStyle.Render(fmt.Sprintf("%d item(s)", len(items))))
		return nil
	},
}

var itemShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one item, refreshing it from the provider when stale",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, entry, err := openProject(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		item, err := st.GetItemByProviderID(cmd.Context(), args[0])
		if store.IsNotFound(err) {
			item, err = st.GetItem(cmd.Context(), types.KindLocal, args[0])
		}
		if err != nil {
			return err
		}

		if item.Kind == types.KindExternal {
			rec, rerr := newReconciler(st, entry)
			if rerr != nil {
				return rerr
			}
			if fresh, ferr := rec.EnsureFresh(cmd.Context(), item.ProviderID); ferr == nil {
				item = fresh
			}
		}
		fmt.Print(renderItemDetail(item))
		return nil
	},
}

var itemAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a local item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openProject(cmd)
		if err != nil {
			return err
		}
		defer st.Close()
		ctx := cmd.Context()

		if flagAddAnchor != "" {
			if _, err := st.GetItemByProviderID(ctx, flagAddAnchor); err != nil {
				return fmt.Errorf("anchor %s: %w", flagAddAnchor, err)
			}
		}

		item := &types.Item{
			ID:       uuid.NewString(),
			Kind:     types.KindLocal,
			ItemType: flagAddType,
			Title:    args[0],
			Priority: flagAddPriority,
			AnchorID: flagAddAnchor,
			Notes:    flagAddNotes,
		}
		item.SetDefaults()
		if _, _, err := st.UpsertItem(ctx, item, false); err != nil {
			return err
		}
		fmt.Printf("Created %s\n", idStyle.Render(item.ID))
		return nil
	},
}

var itemEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit an item; external edits queue a push",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, entry, err := openProject(cmd)
		if err != nil {
			return err
		}
		defer st.Close()
		ctx := cmd.Context()

		payload := map[string]any{}
		if cmd.Flags().Changed("title") {
			payload["title"] = flagEditTitle
		}
		if cmd.Flags().Changed("status") {
			payload["status"] = flagEditStatus
		}
		if cmd.Flags().Changed("priority") {
			payload["priority"] = flagEditPriority
		}

		item, err := st.GetItemByProviderID(ctx, args[0])
		if store.IsNotFound(err) {
			item, err = st.GetItem(ctx, types.KindLocal, args[0])
		}
		if err != nil {
			return err
		}

		// Notes are local-only on every kind of item: they never queue a
		// push and never leave the machine.
		if cmd.Flags().Changed("notes") {
			item.Notes = flagEditNotes
			item.UpdatedAt = time.Now().UTC()
			if _, _, err := st.UpsertItem(ctx, item, false); err != nil {
				return err
			}
		}
		if len(payload) == 0 {
			fmt.Println(okStyle.Render("Updated."))
			return nil
		}

		if item.Kind == types.KindLocal {
			for f, v := range payload {
				switch f {
				case "title":
					item.Title = fmt.Sprintf("%v", v)
				case "status":
					item.Status = fmt.Sprintf("%v", v)
				case "priority":
					item.Priority = v.(int)
				}
			}
			item.UpdatedAt = time.Now().UTC()
			if _, _, err := st.UpsertItem(ctx, item, false); err != nil {
				return err
			}
			fmt.Println(okStyle.Render("Updated."))
			return nil
		}

		rec, err := newReconciler(st, entry)
		if err != nil {
			return err
		}
		changeType := "fields"
		if _, ok := payload["status"]; ok && len(payload) == 1 {
			changeType = "status"
		}
		change, err := rec.QueueChange(ctx, item.ProviderID, changeType, payload)
		if err != nil {
			return err
		}
		fmt.Printf("Updated locally, queued change %s\n", idStyle.Render(change.ID))
		return nil
	},
}

func init() {
	itemListCmd.Flags().StringVar(&flagItemStatus, "status", "", "filter by raw status")
	itemListCmd.Flags().StringVar(&flagItemAssignee, "assignee", "", "filter by assignee id")
	itemListCmd.Flags().StringVar(&flagItemEpic, "epic", "", "filter by epic id")
	itemListCmd.Flags().StringVar(&flagItemSprint, "sprint", "", "filter by sprint id")
	itemListCmd.Flags().IntVar(&flagItemLimit, "limit", 0, "maximum items to show")

	itemAddCmd.Flags().StringVar(&flagAddType, "type", "ticket", "item type")
	itemAddCmd.Flags().IntVar(&flagAddPriority, "priority", 2, "priority 0-4")
	itemAddCmd.Flags().StringVar(&flagAddAnchor, "anchor", "", "anchor to an external item by provider id")
	itemAddCmd.Flags().StringVar(&flagAddNotes, "notes", "", "local notes")

	itemEditCmd.Flags().StringVar(&flagEditTitle, "title", "", "new title")
	itemEditCmd.Flags().StringVar(&flagEditStatus, "status", "", "new status")
	itemEditCmd.Flags().IntVar(&flagEditPriority, "priority", 0, "new priority 0-4")
	itemEditCmd.Flags().StringVar(&flagEditNotes, "notes", "", "local notes (never pushed)")

	itemCmd.AddCommand(itemListCmd, itemShowCmd, itemAddCmd, itemEditCmd)
	rootCmd.AddCommand(itemCmd)
}
