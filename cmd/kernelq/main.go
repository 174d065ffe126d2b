package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "kernelq",
		Short:         "Preemptive priority job scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "./kernelq.yaml", "path to config file")

	root.AddCommand(
		workerCmd(&cfgPath),
		serveCmd(&cfgPath),
		submitCmd(&cfgPath),
		jobsCmd(&cfgPath),
		recoverCmd(&cfgPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
