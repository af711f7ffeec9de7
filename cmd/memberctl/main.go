package main

import (
	"log"

	"github.com/spf13/cobra"

	membercli "github.com/amirimatin/coremember/pkg/cli"
)

func main() {
	if err := newRoot().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "memberctl",
		Short:         "cluster member record CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	membercli.AddAll(root)
	return root
}
