package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	sqlschema "github.com/syssam/uow/dialect/sql/schema"
	"github.com/syssam/uow/schema"
)

func newValidateCmd(a *app) *cobra.Command {
	var ddl string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the model and print a summary of it",
		Long: `Validate loads the model, checks the tables it maps to and prints a
summary of every entity type. With --ddl the statements creating the
tables in the given dialect are printed instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.model()
			if err != nil {
				return err
			}
			m, err := p.Load(cmd.Context())
			if err != nil {
				return err
			}
			a.log.Info("model loaded", "entities", len(m.Types()))
			tables, err := sqlschema.Tables(m)
			if err != nil {
				return err
			}
			result := sqlschema.ValidateSchema(tables)
			for _, w := range result.Warnings {
				a.log.Warn("table definition", "warning", w.Error())
			}
			if result.HasErrors() {
				return fmt.Errorf("invalid tables:\n%s", result)
			}
			if ddl != "" {
				stmts, err := sqlschema.DDL(cmd.Context(), ddl, tables)
				if err != nil {
					return err
				}
				for _, stmt := range stmts {
					fmt.Fprintf(cmd.OutOrStdout(), "%s;\n", stmt)
				}
				return nil
			}
			describeModel(cmd.OutOrStdout(), m)
			return nil
		},
	}
	cmd.Flags().StringVar(&ddl, "ddl", "", "print the DDL of the model in a dialect (sqlite, postgres, mysql, sqlserver)")
	return cmd
}

// describeModel writes one block per entity type, in declaration order.
func describeModel(w io.Writer, m *schema.Model) {
	for i, t := range m.Types() {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (table %s)\n", t.Name, t.Table)
		for _, p := range t.Keys() {
			fmt.Fprintf(w, "  key %s %s %s", p.Name, p.Type, p.Strategy)
			if p.Strategy == schema.StoreSequence {
				fmt.Fprintf(w, " %s", p.Sequence)
			}
			fmt.Fprintln(w)
		}
		for _, p := range t.ConcurrencyTokens() {
			kind := "token"
			if p.StoreComputed {
				kind = "row version"
			}
			fmt.Fprintf(w, "  %s %s\n", kind, p.Name)
		}
		for _, fk := range t.ForeignKeys {
			req := "optional"
			if fk.Required {
				req = "required"
			}
			fmt.Fprintf(w, "  ref %s(%s) -> %s(%s) %s\n", fk.Name,
				strings.Join(fk.Properties, ", "), fk.Principal,
				strings.Join(fk.PrincipalKey, ", "), req)
		}
	}
}
