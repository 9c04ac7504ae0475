// Command uowplan prints and applies the write plan of a change set
// against a YAML model.
//
//	uowplan validate -m model.yaml
//	uowplan plan -m model.yaml changes.yaml --watch
//	uowplan apply -m model.yaml changes.yaml --dialect sqlite --dsn shop.db
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
