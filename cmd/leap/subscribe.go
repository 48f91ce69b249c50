package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/lightforgemedia/go-leapmq/pkg/credentials"
	leaperrors "github.com/lightforgemedia/go-leapmq/pkg/errors"
	"github.com/lightforgemedia/go-leapmq/pkg/events"
	"github.com/lightforgemedia/go-leapmq/pkg/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newSubscribeCmd(v *viper.Viper) *cobra.Command {
	var (
		body        string
		typ         string
		followCerts bool
	)

	cmd := &cobra.Command{
		Use:   "subscribe <url>",
		Short: "Subscribe and print every message for the subscription",
		Long: `Subscribe to a resource and print the first response and every later
notification, one JSON line each, until interrupted.

With --follow-certs the certificate files are watched; when they change the
connection is re-established with the new material and the subscription is
sent again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctype := model.SubscribeRequest
			if typ != "" {
				var err error
				if ctype, err = parseCommuniqueType(typ); err != nil {
					return err
				}
			}
			b, err := parseBody(body)
			if err != nil {
				return err
			}

			s, ctx, cancel, err := openSession(cmd, v, nil)
			if err != nil {
				return err
			}
			defer cancel()
			defer s.close()

			url := args[0]
			subscribe := func() error {
				res, err := s.client.Subscribe(ctx, url, s.printOrLog, ctype, b, "")
				if err != nil {
					return fmt.Errorf("subscribe %s: %w", url, err)
				}
				s.logger.Info("Subscribed", "url", url, "tag", res.Tag)
				return nil
			}
			if err := subscribe(); err != nil {
				return err
			}

			var rotated <-chan struct{}
			if followCerts && s.cfg.WebSocketURL == "" {
				w, ch, err := s.watchCredentials()
				if err != nil {
					return err
				}
				defer w.Stop()
				rotated = ch
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case cause := <-s.dropped:
					return fmt.Errorf("connection lost: %w", cause)
				case <-rotated:
					s.logger.Info("Certificates changed, reconnecting")
					if err := s.client.Close(); err != nil {
						return err
					}
					if err := s.client.Connect(ctx); err != nil {
						return fmt.Errorf("reconnect: %w", err)
					}
					if err := subscribe(); err != nil {
						return err
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&body, "body", "", "JSON request body")
	cmd.Flags().StringVar(&typ, "type", "", "request type (default SubscribeRequest)")
	cmd.Flags().BoolVar(&followCerts, "follow-certs", false, "reconnect when the certificate files change")
	return cmd
}

func (s *session) printOrLog(msg *model.Message) {
	if err := s.print(msg); err != nil {
		s.logger.Error("Writing message", "error", err)
	}
}

// watchCredentials signals on the returned channel whenever the configured
// certificate files change to a usable set.
func (s *session) watchCredentials() (*credentials.Watcher, <-chan struct{}, error) {
	w, err := credentials.NewWatcher(s.cfg.Credentials(), credentials.WithWatcherLogger(s.logger))
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan struct{}, 1)
	w.OnChange(func(credentials.Material) {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	if err := w.Start(); err != nil {
		return nil, nil, err
	}
	return w, ch, nil
}

// watchDisconnect reports disconnects the CLI did not ask for.
func (s *session) watchDisconnect() <-chan error {
	ch := make(chan error, 1)
	s.client.On(events.Disconnected, func(ev events.Event) {
		if errors.Is(ev.Err, leaperrors.ErrClosedByClient) {
			return
		}
		select {
		case ch <- ev.Err:
		default:
		}
	})
	return ch
}

// waitUntilDone blocks until ctx ends or the connection drops.
func (s *session) waitUntilDone(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case cause := <-s.dropped:
		return fmt.Errorf("connection lost: %w", cause)
	}
}
