package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/semfora/pmsync/internal/daemon"
	"github.com/semfora/pmsync/internal/decay"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run background sync and decay for the current project",
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
		gate := gates.For(entry.ProjectID)
		mgr := decay.New(st, gate, decay.Config{
			Threshold: viper.GetFloat64("decay.threshold"),
			Interval:  viper.GetDuration("decay.interval"),
		}, logger)

		cfg := daemon.Config{
			PullInterval:       viper.GetDuration("daemon.pull_interval"),
			FullResyncInterval: viper.GetDuration("daemon.full_resync_interval"),
			PushDebounce:       viper.GetDuration("sync.debounce"),
		}
		d := daemon.New(rec, decay.NewScheduler(mgr), entry.DBPath, cfg, logger)
		if err := d.Start(cmd.Context()); err != nil {
			return err
		}

		fmt.Printf("Daemon running for %s; Ctrl-C to stop.\n",
			idStyle.Render(entry.ProjectID))
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		d.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
