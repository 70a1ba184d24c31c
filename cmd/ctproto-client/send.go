package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSendCmd() *cobra.Command {
	var payloadJSON string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "send <type>",
		Short: "Send a request and print the server's response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := cliContextFrom(cmd.Context())

			var payload any
			if payloadJSON != "" {
				raw := json.RawMessage(payloadJSON)
				if !json.Valid(raw) {
					return fmt.Errorf("--payload is not valid JSON")
				}
				payload = raw
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resp, err := cc.engine.Send(ctx, args[0], payload)
			if err != nil {
				return err
			}
			fmt.Println(string(resp))
			return nil
		},
	}

	cmd.Flags().StringVar(&payloadJSON, "payload", "", "JSON request payload (default: {})")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the response")
	return cmd
}
