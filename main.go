package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"promo-backend/internal"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "promo-backend",
		Short: "Backend for the promo landing pages",
	}
	rootCmd.AddCommand(serveCmd(), migrateCmd(), createAdminCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mustConfig() *internal.Config {
	cfg, err := internal.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	return cfg
}

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(mustConfig(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply the schema before serving")
	return cmd
}

func runServe(cfg *internal.Config, migrate bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db := internal.MustDB(cfg.DatabaseURL)
	defer db.Close()
	if migrate {
		if err := internal.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	rdb, err := internal.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rdb.Close()

	deps := internal.Deps{
		Config:       cfg,
		DB:           db,
		Applications: internal.NewApplicationStore(rdb, cfg.AwardAmount, internal.NewNotifier(cfg)),
		Affiliates:   internal.NewAffiliateStore(db, cfg),
		Prompter:     internal.NewNestlinkClient(cfg.NestlinkURL, cfg.NestlinkAPIKey, cfg.NestlinkTimeout),
		Hub:          internal.NewHub(),
	}

	if deps.Catalog, err = internal.LoadCatalog(cfg.BundlesFile); err != nil {
		return err
	}

	if cfg.MongoURI != "" {
		client, err := internal.ConnectMongo(cfg.MongoURI)
		if err != nil {
			return fmt.Errorf("mongo: %w", err)
		}
		defer client.Disconnect(context.Background())
		deps.Ledger = internal.NewMongoLedger(client.Database(cfg.MongoDB))
	} else {
		log.Println("MONGO_URI not set, payment ledger disabled")
	}

	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		sender, err := internal.NewTelegramProofSender(cfg.TelegramToken, cfg.TelegramAPIURL, cfg.TelegramChatID, 60*time.Second)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		deps.Proofs = sender
	} else {
		log.Println("TELEGRAM_BOT_TOKEN or TELEGRAM_CHAT_ID not set, proof relay disabled")
	}

	go internal.Listen(ctx, db, deps.Hub, 5*time.Second)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: internal.NewRouter(deps),
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("Listening on :%s", cfg.Port)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the Postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := mustConfig()
			db := internal.MustDB(cfg.DatabaseURL)
			defer db.Close()
			if err := internal.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			log.Println("Schema is up to date")
			return nil
		},
	}
}

func createAdminCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Add an admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := mustConfig()
			db := internal.MustDB(cfg.DatabaseURL)
			defer db.Close()
			id, err := internal.CreateAdmin(cmd.Context(), db, username, password)
			if err != nil {
				return err
			}
			log.Printf("Created admin %q (id %d)", username, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "admin login")
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
