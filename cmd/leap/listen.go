package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newListenCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Print unsolicited messages until interrupted",
		Long: `Connect and print every message that does not answer a request of
this client, one JSON line each.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ctx, cancel, err := openSession(cmd, v, func(s *session) {
				s.client.OnUnsolicited(s.printOrLog)
			})
			if err != nil {
				return err
			}
			defer cancel()
			defer s.close()

			return s.waitUntilDone(ctx)
		},
	}
}
