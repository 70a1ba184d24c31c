package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ctproto/ctproto-go/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var msgType string
	var uploadTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Upload every file that appears in dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := cliContextFrom(cmd.Context())
			dir := args[0]

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			jobs := make(chan watcher.Job, 16)
			w := watcher.New(dir)

			runErr := make(chan error, 1)
			go func() { runErr <- w.Run(ctx, jobs) }()

			cc.log.Info("watching directory", "dir", dir)
			for {
				select {
				case <-ctx.Done():
					return <-runErr

				case job := <-jobs:
					cc.log.Info("uploading", "path", job.Path, "size", job.Size)
					data, err := os.ReadFile(job.Path)
					if err != nil {
						cc.log.Warn("skipping unreadable file", "path", job.Path, "error", err)
						continue
					}
					uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
					resp, err := cc.driver.SendFile(uploadCtx, msgType, data, nil)
					cancel()
					if err != nil {
						cc.log.Error("upload failed", "path", job.Path, "error", err)
						continue
					}
					fmt.Printf("%s -> %s\n", job.Path, string(resp))
				}
			}
		},
	}

	cmd.Flags().StringVar(&msgType, "type", "file", "message type attached to each upload's chunk 0")
	cmd.Flags().DurationVar(&uploadTimeout, "upload-timeout", 5*time.Minute, "how long to wait for each upload to complete")
	return cmd
}
