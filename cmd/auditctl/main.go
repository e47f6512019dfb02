// Command auditctl inspects an audit log from the terminal.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"auditlog/internal/platform/config"
	"auditlog/internal/storage"
)

// opener connects to the store the commands read from.
type opener func(ctx context.Context) (*storage.Backend, error)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(openFromEnv, os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func openFromEnv(ctx context.Context) (*storage.Backend, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	return storage.Open(ctx, cfg)
}

func newRootCmd(open opener, out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "auditctl",
		Short:         "Query audit log entries and check tracking configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	rootCmd.AddCommand(
		newListCmd(open),
		newShowCmd(open),
		newRegistryCmd(),
		newTokenCmd(),
	)
	return rootCmd
}

// withStore opens the backend, runs fn and closes it.
func withStore(ctx context.Context, open opener, fn func(b *storage.Backend) error) error {
	b, err := open(ctx)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer b.Close()
	return fn(b)
}
