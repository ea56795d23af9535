// Command rumorsniff joins a rumors multicast group and prints every
// announcement it hears without ever announcing itself.
package main

import (
	rumorscli "github.com/amirimatin/go-rumors/pkg/cli"
	"github.com/amirimatin/go-rumors/internal/logutil"
)

func main() {
	cmd := rumorscli.NewSniffCmd()
	cmd.Use = "rumorsniff"
	cmd.SilenceUsage = true
	if err := cmd.Execute(); err != nil {
		logutil.Default().Fatal(err)
	}
}
