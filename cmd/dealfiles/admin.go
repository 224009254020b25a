package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dealfiles/internal/api"
	"dealfiles/internal/config"
)

func newAdminCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative commands",
	}

	cmd.AddCommand(newAdminSweepBlobsCmd(cfg, out))
	return cmd
}

func newAdminSweepBlobsCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	var (
		apply     bool
		olderThan time.Duration
		showKeys  bool
	)

	cmd := &cobra.Command{
		Use:   "sweep-blobs",
		Short: "Find, and with --apply delete, stored blobs no attachment references",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}

			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.SweepBlobs(cmd.Context(), olderThan, apply)
				if err != nil {
					return err
				}
				return out.emit(resp, func() error { return writeSweep(resp, showKeys) })
			})
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "delete orphan blobs (default is a dry run)")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only consider blobs older than this, at least 10m (default: server uploads.orphan_grace)")
	cmd.Flags().BoolVar(&showKeys, "keys", false, "list orphan storage keys")
	return cmd
}

func writeSweep(resp api.SweepResponse, showKeys bool) error {
	mode := "dry run"
	if !resp.DryRun {
		mode = "applied"
	}
	if err := writePlain("%s: scanned=%d orphans=%d deleted=%d failed=%d reclaimed=%s\n",
		mode, resp.ScannedCount, resp.OrphanCount, resp.DeletedCount, resp.FailedCount, formatBytes(resp.ReclaimedBytes)); err != nil {
		return err
	}
	if !showKeys {
		return nil
	}
	for _, key := range resp.OrphanKeys {
		if err := writePlain("  %s\n", key); err != nil {
			return err
		}
	}
	return nil
}
