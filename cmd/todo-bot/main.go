package main

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/elKINTARO/todo-bot/internal/auth"
	"github.com/elKINTARO/todo-bot/internal/config"
	"github.com/elKINTARO/todo-bot/internal/db"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal("❌ ", err)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "todo-bot",
		Short:         "Telegram to-do bot with deadline reminders",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")

	load := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the bot, the reminder scheduler and the REST API",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				if err := cfg.Validate(); err != nil {
					return err
				}
				return serve(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create the database schema and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return migrate(cmd.Context(), cfg)
			},
		},
		newTokenCmd(load),
	)
	return root
}

func newTokenCmd(load func() (*config.Config, error)) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a REST API token for a Telegram user id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			uid, err := strconv.ParseInt(user, 10, 64)
			if err != nil || uid <= 0 {
				return fmt.Errorf("--user must be a positive Telegram user id, got %q", user)
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is required")
			}
			tok, err := auth.GenerateToken([]byte(cfg.JWTSecret), uid, auth.DefaultTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Telegram user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func migrate(ctx context.Context, cfg *config.Config) error {
	if cfg.DBDriver == "memory" {
		return fmt.Errorf("nothing to migrate for the memory driver")
	}

	database, err := db.Connect(db.Dialect(cfg.DBDriver), cfg.ConnString())
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer database.Close()

	if err := db.Migrate(ctx, database); err != nil {
		return err
	}
	log.Printf("✅ schema is up to date (%s)", cfg.DBDriver)
	return nil
}
