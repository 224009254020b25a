package main

import (
	"github.com/spf13/cobra"

	"dealfiles/internal/api"
	"dealfiles/internal/config"
)

func newDealCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "deal", Short: "Manage deals"}
	cmd.AddCommand(
		newDealCreateCmd(cfg, out),
		newDealListCmd(cfg, out),
	)
	return cmd
}

func newDealCreateCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <deal-id> [name]",
		Short: "Register a deal so files can be attached to it",
		Args:  requireRangeArgs(1, 2, "deal id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.DealCreateRequest{DealID: args[0]}
			if len(args) == 2 {
				req.Name = args[1]
			}
			return withClient(cfg, func(client *api.Client) error {
				deal, err := client.CreateDeal(cmd.Context(), req)
				if err != nil {
					return err
				}
				return out.emit(deal, func() error { return writePlain("%s\n", formatDealLine(deal)) })
			})
		},
	}
}

func newDealListCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered deals",
		Args:  requireExactlyArgs(0, "list takes no arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				deals, err := client.ListDeals(cmd.Context())
				if err != nil {
					return err
				}
				return out.emit(deals, func() error {
					for _, deal := range deals {
						if err := writePlain("%s\n", formatDealLine(deal)); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
}

func formatDealLine(deal api.Deal) string {
	if deal.Name == "" {
		return deal.DealID
	}
	return deal.DealID + " - " + deal.Name
}
