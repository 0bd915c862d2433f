package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semfora/pmsync/internal/decay"
	"github.com/semfora/pmsync/internal/types"
)

var (
	flagMemImportance int
	flagMemConfidence float64
	flagMemType       string

	flagDecayDryRun    bool
	flagDecayThreshold float64
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Store and recall long-lived project notes",
}

var memoryAddCmd = &cobra.Command{
	Use:   "add <type> <key> <content>",
	Short: "Save a memory record",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openProject(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		rec := &types.MemoryRecord{
			MemoryType: args[0],
			Key:        args[1],
			Content:    args[2],
			Importance: flagMemImportance,
			Confidence: flagMemConfidence,
		}
		if err := st.UpsertMemory(cmd.Context(), rec); err != nil {
			return err
		}
		fmt.Printf("Saved %s\n", idStyle.Render(args[0]+"/"+args[1]))
		return nil
	},
}

var memoryRecallCmd = &cobra.Command{
	Use:   "recall <type> <key>",
	Short: "Recall a record, refreshing its decay clock",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openProject(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		rec, err := st.RecallMemory(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(titleStyle.Render(rec.MemoryType + "/" + rec.Key))
		fmt.Println(rec.Content)
		fmt.Println(dimStyle.Render(fmt.Sprintf("importance %d, confidence %.2f, accessed %d time(s)",
			rec.Importance, rec.Confidence, rec.AccessCount)))
		return nil
	},
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List memory records without touching their decay clocks",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openProject(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		records, err := st.ListMemories(cmd.Context(), flagMemType)
		if err != nil {
			return err
		}
		for _, rec := range records {
			pin := ""
			if rec.Pinned() {
				pin = warnStyle.Render(" *")
			}
			fmt.Printf("%s  I%d %s%s\n", idStyle.Render(rec.MemoryType+"/"+rec.Key),
				rec.Importance, dimStyle.Render(fmt.Sprintf("(%d reads)", rec.AccessCount)), pin)
		}
		fmt.Println(dimStyle.Render(fmt.Sprintf("%d record(s)", len(records))))
		return nil
	},
}

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Score memory records and prune the stale ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, entry, err := openProject(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		mgr := decay.New(st, gates.For(entry.ProjectID),
			decay.Config{Threshold: flagDecayThreshold}, logger)
		result, err := mgr.Run(cmd.Context(), flagDecayDryRun)
		if err != nil {
			return err
		}

		for _, c := range result.Candidates {
			fmt.Printf("%s  score %.1f\n",
				idStyle.Render(c.Record.MemoryType+"/"+c.Record.Key), c.Score)
		}
		if result.DryRun {
			fmt.Printf("%d of %d record(s) would be pruned\n",
				len(result.Candidates), result.Scanned)
		} else {
			fmt.Printf("Pruned %d of %d record(s)\n", result.Pruned, result.Scanned)
		}
		return nil
	},
}

func init() {
	memoryAddCmd.Flags().IntVar(&flagMemImportance, "importance", 2, "importance 1-5 (5 = never pruned)")
	memoryAddCmd.Flags().Float64Var(&flagMemConfidence, "confidence", 1.0, "confidence 0.0-1.0")
	memoryListCmd.Flags().StringVar(&flagMemType, "type", "", "filter by memory type")

	decayCmd.Flags().BoolVar(&flagDecayDryRun, "dry-run", false, "report candidates without deleting")
	decayCmd.Flags().Float64Var(&flagDecayThreshold, "threshold", decay.DefaultThreshold, "prune score cutoff")

	memoryCmd.AddCommand(memoryAddCmd, memoryRecallCmd, memoryListCmd)
	rootCmd.AddCommand(memoryCmd, decayCmd)
}
