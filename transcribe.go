package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"node.town/murmur/config"
	"node.town/murmur/stt"
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file>",
	Short: "Transcribe a recorded audio file",
	Args:  cobra.ExactArgs(1),
	Run:   runTranscribe,
}

func runTranscribe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	logs := createLoggers(cfg.Log.Level)

	endpoint, _ := cmd.Flags().GetString("url")
	client, err := batchClient(cfg, endpoint)
	if err != nil {
		logs.main.Fatal("transcribe", "error", err.Error())
	}

	f, err := os.Open(args[0])
	if err != nil {
		logs.main.Fatal("open audio file", "error", err.Error())
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	logs.hear.Info("upload", "file", args[0], "url", client.URL)
	result, err := client.Transcribe(ctx, f, contentType(args[0]))
	if err != nil {
		logs.main.Fatal("transcribe", "error", err.Error())
	}

	fmt.Println(result.Transcript())
}

// batchClient posts to endpoint when given, which is expected to be a proxy
// like /api/deepgram, and to Deepgram itself otherwise.
func batchClient(cfg *config.Config, endpoint string) (*stt.BatchClient, error) {
	if endpoint != "" {
		return &stt.BatchClient{URL: endpoint}, nil
	}
	if cfg.Deepgram.APIKey == "" {
		return nil, fmt.Errorf("missing DEEPGRAM_API_KEY or --deepgram-api-key=")
	}
	return &stt.BatchClient{
		URL:   stt.DeepgramBatchURL(cfg.Deepgram.BaseURL, cfg.Deepgram.Model),
		Token: cfg.Deepgram.APIKey,
	}, nil
}

func contentType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
