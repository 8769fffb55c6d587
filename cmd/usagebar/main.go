package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sdpower/usagebar-go/internal/commands"
	"github.com/sdpower/usagebar-go/internal/types"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := commands.NewRootCommand()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		msg := err.Error()
		if apiErr, ok := types.AsAPIError(err); ok {
			msg = apiErr.Description()
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		stop()
		os.Exit(1)
	}
}
