package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/syssam/uow/schema"
)

// app holds the state shared by the subcommands after configuration has
// been loaded.
type app struct {
	configFile string
	v          *viper.Viper
	log        *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "uowplan",
		Short:         "Plan and apply unit of work change sets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	cmd.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default: ./uowplan.yaml)")
	cmd.PersistentFlags().StringP("model", "m", "", "model file")
	cmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newValidateCmd(a),
		newPlanCmd(a),
		newApplyCmd(a),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	v, err := loadConfig(a.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	level, err := parseLevel(v.GetString(cfgKeyLogLevel))
	if err != nil {
		return err
	}
	a.v = v
	a.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

// model returns the provider of the configured model file.
func (a *app) model() (schema.Provider, error) {
	path := a.v.GetString(cfgKeyModel)
	if path == "" {
		return nil, errors.New("no model file: use --model or set model in the config")
	}
	return schema.File(path), nil
}

func exactArgs(n int, names string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("expected %s", names)
		}
		return nil
	}
}
