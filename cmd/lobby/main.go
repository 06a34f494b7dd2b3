package main

import (
	"github.com/spf13/cobra"
)

func main() {
	cobra.CheckErr(newRootCmd().Execute())
}

type globals struct {
	server   string
	logLevel string
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   "lobby",
		Short: "Create, watch and join two-player lobby sessions.",
	}
	cmd.PersistentFlags().StringVarP(&g.server, "server", "s", "http://localhost:8080", "lobby server base URL (env: LOBBY_SERVER)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "debug, info, warn or error (env: LOBBY_LOG_LEVEL)")

	cmd.AddCommand(newNewCmd(g), newStatusCmd(g), newJoinCmd(g))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SilenceUsage = true
	return cmd
}
