// Command leap talks to a lighting bridge over its secure line protocol.
package main

import (
	"fmt"
	"os"

	"github.com/lightforgemedia/go-leapmq/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "leap",
		Short: "Send requests to a bridge and watch its notifications",
		Long: `leap connects to a bridge with mutual TLS and exchanges
newline-delimited JSON messages.

Examples:
  leap read /server --host 192.168.1.10 --ca ca.pem --key client.key --cert client.pem
  leap request CreateRequest /zone/1/commandprocessor --body '{"Command":{"CommandType":"GoToLevel"}}'
  leap subscribe /occupancygroup/status --follow-certs
  leap listen --metrics-addr :9090

Settings can also come from LEAP_* environment variables or leap.yaml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.BindFlags(root, v)

	root.AddCommand(
		newReadCmd(v),
		newRequestCmd(v),
		newSubscribeCmd(v),
		newListenCmd(v),
	)
	return root
}
