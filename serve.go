package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the credential and transcription endpoints",
	Long: `Serve GET /api/groq, which hands out the completion key, and
POST /api/deepgram, which transcribes an uploaded recording.`,
	Run: runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	logs := createLoggers(cfg.Log.Level)

	if cfg.Server.CompletionAPIKey == "" {
		logs.main.Warn("missing completion key: GROQ_API_KEY, OPENAI_API_KEY or --groq-api-key=")
	}
	if cfg.Server.DeepgramAPIKey == "" {
		logs.main.Warn("missing DEEPGRAM_API_KEY or --deepgram-api-key=")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if err := newServer(cfg, logs.http).Serve(ctx); err != nil {
		logs.main.Fatal("serve", "error", err.Error())
	}
}
