package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammad-safakhou/poodle/config"
	"github.com/mohammad-safakhou/poodle/internal/notify"
	"github.com/mohammad-safakhou/poodle/internal/queue/streams"
	"github.com/mohammad-safakhou/poodle/repository"
	"github.com/spf13/cobra"
)

func tailCMD() *cobra.Command {
	var group, name string
	var tail = &cobra.Command{
		Use:   "tail",
		Short: "Print change events published to the notifier stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			stream := cfg.Notifier.Stream
			if stream == "" {
				stream = config.DefaultStreamName
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := repository.NewRedisClient(ctx, cfg.Storage.Redis)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := streams.EnsureGroup(ctx, client, stream, group); err != nil {
				return err
			}
			schemas := streams.NewSchemaRegistry()
			if err := streams.RegisterBaseSchemas(schemas); err != nil {
				return err
			}
			consumer := streams.NewConsumer(client, schemas, group, name)
			out := cmd.OutOrStdout()
			for {
				msgs, err := consumer.Read(ctx, stream, streams.WithBlock(5*time.Second), streams.WithCount(16))
				if err != nil {
					if errors.Is(ctx.Err(), context.Canceled) {
						return nil
					}
					return err
				}
				for _, msg := range msgs {
					if ev, err := msg.Envelope.Change(); err != nil {
						newLogger("TAIL").Printf("skip %s: %v", msg.ID, err)
					} else {
						fmt.Fprintf(out, "[%s] %s", ev.ChannelID, notify.Format(ev))
					}
					if err := consumer.Ack(ctx, stream, msg.ID); err != nil {
						return err
					}
				}
			}
		},
	}
	tail.Flags().StringVar(&group, "group", "poodle-tail", "consumer group")
	tail.Flags().StringVar(&name, "name", "tail-1", "consumer name")

	return tail
}
