package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "dispatcher",
		Short:         "Deliver messages through failover backends",
		Long:          "dispatcher delivers each message at most once through an ordered list of backends,\nwith rate limiting, retries with exponential backoff, and per-backend circuit breakers.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config/config.yaml or ./config.yaml)")

	root.AddCommand(newServeCmd(&cfgFile))
	root.AddCommand(newSendCmd(&cfgFile))
	return root
}
