package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smhanov/deepsearch/server"
)

var (
	serveSecret string
	servePort   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the OpenAI-compatible chat completions server",
	Long: `Serve exposes the agent at /v1/chat/completions. With --secret (or
DEEPSEARCH_SECRET) set, requests must carry "Authorization: Bearer <secret>".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("secret") {
			cfg.Server.Secret = serveSecret
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		b, err := buildAgent(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := b.close(); err != nil {
				logger.Warn("close reader", "error", err)
			}
		}()

		srv := server.New(b.agent,
			server.WithSecret(cfg.Server.Secret),
			server.WithLogger(logger),
		)
		logger.Info("deepsearch server starting",
			"port", cfg.Server.Port,
			"llm", cfg.LLM.Provider,
			"search", cfg.Search.Provider,
			"reader", cfg.Reader.Provider,
			"auth", cfg.Server.Secret != "",
		)
		return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveSecret, "secret", "", "shared secret required as a bearer token")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config, 3000)")
	rootCmd.AddCommand(serveCmd)
}
