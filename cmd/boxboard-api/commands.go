package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/boxboard/internal/botclient"
	"github.com/MarcoPoloResearchLab/boxboard/internal/database"
	"github.com/MarcoPoloResearchLab/boxboard/internal/users"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSessionsCommand() *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage login sessions",
	}
	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "clean",
		Short: "Delete expired login sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, cleanup, err := openRuntime()
			if err != nil {
				return err
			}
			defer cleanup()

			initializer, err := database.NewInitializer(database.InitializerConfig{
				Database: rt.db,
				Path:     rt.config.DatabasePath,
				Clock:    time.Now,
				Logger:   rt.logger,
			})
			if err != nil {
				return err
			}
			if err := initializer.Run(cmd.Context()); err != nil {
				return err
			}

			userService, err := users.NewService(users.ServiceConfig{Database: rt.db, Logger: rt.logger})
			if err != nil {
				return err
			}
			removed, err := userService.CleanExpiredSessions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired session(s)\n", removed)
			return nil
		},
	})
	return sessionsCmd
}

var errBotSecretRequired = errors.New("bot.api_secret is required")

func newBotCommand() *cobra.Command {
	botCmd := &cobra.Command{
		Use:   "bot",
		Short: "Discord bot utilities",
	}

	var subject string
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bot service token",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, cleanup, err := loadRuntime()
			if err != nil {
				return err
			}
			defer cleanup()
			if rt.config.Bot.APISecret == "" {
				return errBotSecretRequired
			}
			issuer, err := newBotTokenIssuer(rt.config)
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueServiceToken(cmd.Context(), subject)
			if err != nil {
				return err
			}
			rt.logger.Info("bot token issued", zap.String("subject", subject), zap.Int64("expires_in_seconds", expiresIn))
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	tokenCmd.Flags().StringVar(&subject, "subject", botclient.DefaultSubject, "Token subject")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the bot can reach the API with its service token",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, cleanup, err := loadRuntime()
			if err != nil {
				return err
			}
			defer cleanup()
			if rt.config.Bot.APISecret == "" {
				return errBotSecretRequired
			}
			issuer, err := newBotTokenIssuer(rt.config)
			if err != nil {
				return err
			}
			tokens, err := botclient.NewTokenSource(issuer, botclient.DefaultSubject, time.Now)
			if err != nil {
				return err
			}
			client, err := botclient.New(botclient.Config{
				BaseURL: rt.config.Bot.APIBaseURL,
				Tokens:  tokens,
				Logger:  rt.logger,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := client.Health(ctx); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			listed, err := client.ListBoxes(ctx)
			if err != nil {
				return fmt.Errorf("list boxes failed: %w", err)
			}
			// The lookup exercises the bearer token; an unknown id answers 404, which the client maps to nil.
			if _, err := client.GetLinkedUser(ctx, "0"); err != nil {
				return fmt.Errorf("bot token rejected: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "api reachable at %s, %d boxes\n", rt.config.Bot.APIBaseURL, len(listed))
			return nil
		},
	}

	botCmd.AddCommand(tokenCmd, checkCmd)
	return botCmd
}
