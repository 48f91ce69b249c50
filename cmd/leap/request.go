package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lightforgemedia/go-leapmq/pkg/client"
	"github.com/lightforgemedia/go-leapmq/pkg/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var requestTypes = []model.CommuniqueType{
	model.ReadRequest,
	model.CreateRequest,
	model.UpdateRequest,
	model.DeleteRequest,
	model.SubscribeRequest,
	model.UnsubscribeRequest,
}

// parseCommuniqueType accepts a request type case-insensitively, with or
// without the Request suffix ("read", "UpdateRequest").
func parseCommuniqueType(s string) (model.CommuniqueType, error) {
	for _, t := range requestTypes {
		name := string(t)
		if strings.EqualFold(s, name) || strings.EqualFold(s+"Request", name) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown request type %q", s)
}

// parseBody validates a JSON body flag. An empty flag means no body.
func parseBody(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("body is not valid JSON: %s", s)
	}
	return json.RawMessage(s), nil
}

func newReadCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "read <url>",
		Short: "Read a resource and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, v, model.ReadRequest, args[0], nil, "")
		},
	}
}

func newRequestCmd(v *viper.Viper) *cobra.Command {
	var body, tag string

	cmd := &cobra.Command{
		Use:   "request <type> <url>",
		Short: "Send any request type and print the response",
		Long: `Send a request and print the response line.

The type is one of Read, Create, Update, Delete, Subscribe or Unsubscribe,
with or without the Request suffix.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctype, err := parseCommuniqueType(args[0])
			if err != nil {
				return err
			}
			b, err := parseBody(body)
			if err != nil {
				return err
			}
			return runRequest(cmd, v, ctype, args[1], b, tag)
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "JSON request body")
	cmd.Flags().StringVar(&tag, "tag", "", "client tag (generated when empty)")
	return cmd
}

func runRequest(cmd *cobra.Command, v *viper.Viper, ctype model.CommuniqueType, url string, body any, tag string) error {
	s, ctx, cancel, err := openSession(cmd, v, nil)
	if err != nil {
		return err
	}
	defer cancel()
	defer s.close()

	resp, err := s.client.Request(ctx, ctype, url, body, tag)
	if err != nil {
		return err
	}
	if err := s.print(resp); err != nil {
		return err
	}
	return client.CheckStatus(resp)
}
