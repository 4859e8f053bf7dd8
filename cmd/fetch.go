package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/mohammad-safakhou/poodle/config"
	"github.com/mohammad-safakhou/poodle/internal/changes"
	"github.com/mohammad-safakhou/poodle/internal/helpers"
	"github.com/spf13/cobra"
)

func fetchCMD() *cobra.Command {
	var showContent bool
	var against string
	var fetch = &cobra.Command{
		Use:   "fetch <course-id>...",
		Short: "Log in once and fetch course pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid course id %q", arg)
				}
				ids = append(ids, id)
			}
			var previous string
			if against != "" {
				b, err := os.ReadFile(against)
				if err != nil {
					return err
				}
				previous = string(b)
			}

			cfg := config.LoadConfig(cfgPath)
			cfg.Storage.Backend = "memory"
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			session, err := a.sessions.EnsureActive(ctx)
			if err != nil {
				return err
			}
			detector := changes.NewDetector(newLogger("DIFF"))
			out := cmd.OutOrStdout()
			for _, id := range ids {
				snap, err := a.loader.Fetch(ctx, session, id)
				if err != nil {
					return fmt.Errorf("course %d: %w", id, err)
				}
				fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", id, snap.Name, helpers.ShortFingerprint(snap.Content), snap.URL)
				if showContent {
					fmt.Fprintln(out, snap.Content)
				}
				if against != "" {
					if summary, ok := detector.Diff(previous, snap.Content); ok {
						fmt.Fprint(out, summary.String())
					} else {
						fmt.Fprintln(out, "no new uploads")
					}
				}
			}
			a.sessions.Invalidate()
			return nil
		},
	}
	fetch.Flags().BoolVar(&showContent, "content", false, "print the content fragment")
	fetch.Flags().StringVar(&against, "against", "", "diff each page against a saved fragment file")

	return fetch
}
