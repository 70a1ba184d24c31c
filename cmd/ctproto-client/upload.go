package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newUploadCmd() *cobra.Command {
	var payloadJSON string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "upload <type> <file>",
		Short: "Drive a chunked file upload to completion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := cliContextFrom(cmd.Context())
			msgType, path := args[0], args[1]

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}

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

			resp, err := cc.driver.SendFile(ctx, msgType, data, payload)
			if err != nil {
				return err
			}
			fmt.Println(string(resp))
			return nil
		},
	}

	cmd.Flags().StringVar(&payloadJSON, "payload", "", "JSON metadata payload attached to chunk 0 (default: {})")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the upload to complete")
	return cmd
}
