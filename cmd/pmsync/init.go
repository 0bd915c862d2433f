package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semfora/pmsync/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Register the current project and create its store",
	RunE: func(cmd *cobra.Command, args []string) error {
		regPath, err := store.DefaultRegistryPath()
		if err != nil {
			return err
		}
		reg, err := store.LoadRegistry(regPath)
		if err != nil {
			return err
		}
		entry, err := reg.Register(flagProject)
		if err != nil {
			return err
		}
		if err := reg.Save(); err != nil {
			return err
		}

		st, err := store.Open(entry.DBPath)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.InitSchema(cmd.Context()); err != nil {
			return err
		}

		fmt.Printf("Initialized project %s\n", idStyle.Render(entry.ProjectID))
		fmt.Printf("  source: %s\n", entry.Source)
		fmt.Printf("  store:  %s\n", entry.DBPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
