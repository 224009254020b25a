package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dealfiles/internal/config"
	"dealfiles/internal/format"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		logLevel   string
		outputName string
	)
	out := &outputOptions{}

	cmd := &cobra.Command{
		Use:           "dealfiles",
		Short:         "Dealfiles stores and versions files attached to deals",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			warning, err := configureLoggerForCLI(logLevel, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintln(os.Stderr, warning)
			}
			return out.configure(outputName)
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&outputName, "format", "text", "output format: text, json or yaml")

	cmd.AddCommand(
		newSrvCmd(cfg),
		newAttachCmd(cfg, out),
		newDealCmd(cfg, out),
		newAdminCmd(cfg, out),
		newMigrateCmd(cfg, out),
		newConfigCmd(cfg, out),
	)

	return cmd
}

// outputOptions holds the --format selection shared by every subcommand.
type outputOptions struct {
	formatter format.Formatter
}

func (o *outputOptions) configure(name string) error {
	if name == "" || name == "text" {
		o.formatter = nil
		return nil
	}
	f, err := format.ByName(name)
	if err != nil {
		return err
	}
	o.formatter = f
	return nil
}

func (o *outputOptions) structured() bool {
	return o != nil && o.formatter != nil
}

// emit writes payload with the selected formatter, or calls plain for text output.
func (o *outputOptions) emit(payload any, plain func() error) error {
	if o.structured() {
		return o.formatter.Write(stdout, payload)
	}
	return plain()
}
