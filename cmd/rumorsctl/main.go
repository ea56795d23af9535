package main

import (
	"github.com/spf13/cobra"

	rumorscli "github.com/amirimatin/go-rumors/pkg/cli"
	"github.com/amirimatin/go-rumors/internal/logutil"
)

func main() {
	if err := newRoot().Execute(); err != nil {
		logutil.Default().Fatal(err)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "rumorsctl",
		Short:         "go-rumors node and management CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	// Attach all node commands from pkg/cli for reuse in services
	rumorscli.AddAll(root)
	return root
}
