package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nurbua/Image-Insight/internal/auth"
)

var ttlFlag time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for --user",
	Long: `Print an HS256 bearer token for --user signed with AUTH_JWT_SECRET.
The web server and the Lambda accept it in the Authorization header or the
access_token query parameter.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		resolver, err := auth.NewJWTResolver(cfg.AuthJWTSecret)
		if err != nil {
			log.Fatal().Err(err).Msg("AUTH_JWT_SECRET is required to issue tokens")
		}
		token, err := resolver.Issue(userFlag, ttlFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to sign token")
		}
		fmt.Println(token)
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&ttlFlag, "ttl", 24*time.Hour, "Token lifetime")
}
