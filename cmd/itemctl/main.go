// Command itemctl stages and applies item spreadsheets from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/itemstage/internal/cli"
	"github.com/JonMunkholm/itemstage/internal/core"
	_ "github.com/JonMunkholm/itemstage/internal/core/tables" // Register column maps
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Overload()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.New().Execute(ctx, os.Args[1:], os.Stdout); err != nil {
		if core.IsUserFacing(err) {
			fmt.Fprintln(os.Stderr, "error:", core.FormatUserError(err))
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		if errors.Is(err, cli.ErrValidationFailed) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
