package main

import (
	"fmt"
	"time"

	"github.com/mohammad-safakhou/poodle/config"
	"github.com/mohammad-safakhou/poodle/internal/runtime"
	"github.com/spf13/cobra"
)

func tokenCMD() *cobra.Command {
	var ttl time.Duration
	var scopes []string
	var secret string
	var token = &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint a JWT for the HTTP API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := []byte(secret)
			if secret == "" {
				var err error
				if key, err = runtime.LoadJWTSecret(config.LoadConfig(cfgPath)); err != nil {
					return err
				}
			}
			if len(scopes) == 0 {
				scopes = runtime.DefaultScopes
			}
			tok, err := runtime.SignJWT(args[0], key, ttl, scopes...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	token.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	token.Flags().StringSliceVar(&scopes, "scope", nil, "granted scopes (default watches:read,watches:write)")
	token.Flags().StringVar(&secret, "secret", "", "signing secret (default server.jwt_secret)")

	return token
}
