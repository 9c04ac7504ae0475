package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/syssam/uow/internal/memstore"
	"github.com/syssam/uow/plan"
	"github.com/syssam/uow/session"
)

func newPlanCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "plan CHANGES",
		Short: "Print the write order of a change set",
		Long: `Plan loads the change set into a tracking scope and prints the
commands a save would execute, in order, without executing them.
With --watch the plan is printed again whenever the model or the change
set file changes.`,
		Args: exactArgs(1, "one change set file"),
		RunE: func(cmd *cobra.Command, args []string) error {
			run := func(ctx context.Context, w io.Writer) error {
				return a.plan(ctx, args[0], w)
			}
			if watch {
				return a.watch(cmd.Context(), []string{a.v.GetString(cfgKeyModel), args[0]}, cmd.OutOrStdout(), run)
			}
			return run(cmd.Context(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-plan when the input files change")
	return cmd
}

func (a *app) plan(ctx context.Context, changes string, w io.Writer) error {
	provider, err := a.model()
	if err != nil {
		return err
	}
	objects, err := readChangeSet(changes)
	if err != nil {
		return err
	}
	store := memstore.New()
	s, err := session.New(ctx, provider, store,
		session.WithLogger(a.log),
		session.WithSequences(store),
	)
	if err != nil {
		return err
	}
	if err := track(s, objects, nil); err != nil {
		return err
	}
	steps, err := s.Plan(ctx)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		_, err = fmt.Fprintln(w, "nothing to do")
		return err
	}
	_, err = io.WriteString(w, plan.Describe(steps))
	return err
}
