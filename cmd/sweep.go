package cmd

import (
	"fmt"

	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/sweep"
	"github.com/LeeDigitalWorks/zaptus/pkg/tus"
	"github.com/LeeDigitalWorks/zaptus/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire abandoned uploads once and exit",
	Long: `Delete unfinished uploads older than expire_after, together with
their stored bytes. Useful from cron when the server runs with
sweep_interval=0.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	f := sweepCmd.Flags()
	addBackendFlags(f)
	f.Int("sweep_batch_size", 500, "Maximum uploads to expire")
	f.Float64("sweep_delete_rate", 50, "Uploads deleted per second (0 for unlimited)")
	f.Bool("sweep_dry_run", false, "Report uploads that would expire without deleting them")

	viper.BindPFlags(f)
}

func runSweep(cmd *cobra.Command, args []string) error {
	utils.LoadConfiguration("zaptus", false)
	l := NewFlagLoader(cmd)

	b, err := openBackends(l)
	if err != nil {
		return err
	}
	defer b.Close()

	handler, err := tus.NewHandler(tus.Config{
		Store:       b.store,
		Storage:     b.storage,
		BasePath:    l.String("base_path"),
		ExpireAfter: l.Duration("expire_after"),
	})
	if err != nil {
		return err
	}

	svc, err := sweep.New(sweep.Config{
		ExpireAfter: l.Duration("expire_after"),
		BatchSize:   l.Int("sweep_batch_size"),
		DeleteRate:  l.Float64("sweep_delete_rate"),
		DryRun:      l.Bool("sweep_dry_run"),
	}, b.store, handler)
	if err != nil {
		return err
	}

	report := svc.RunOnce(cmd.Context())
	if report.Err != nil {
		return report.Err
	}
	fmt.Printf("scanned=%d expired=%d skipped=%d failed=%d duration=%s\n",
		report.Scanned, report.Expired, report.Skipped, report.Failed, report.Duration)
	if report.Failed > 0 {
		logger.Warn().Int("failed", report.Failed).Msg("Some uploads could not be expired")
		return fmt.Errorf("%d uploads failed to expire", report.Failed)
	}
	return nil
}
