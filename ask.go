package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"node.town/murmur/llm"
)

var askCmd = &cobra.Command{
	Use:   "ask <utterance>",
	Short: "Answer one utterance the way listen does",
	Args:  cobra.MinimumNArgs(1),
	Run:   runAsk,
}

func runAsk(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	logs := createLoggers(cfg.Log.Level)

	ctx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Completion.Timeout,
	)
	defer cancel()

	// No embedded server here to hand out the key.
	if cfg.Completion.APIKey == "" {
		cfg.Completion.APIKey = cfg.Server.CompletionAPIKey
	}
	apiKey, err := credentials(cfg).APIKey(ctx)
	if err != nil {
		logs.main.Fatal("fetch credential", "error", err.Error())
	}

	answer, err := languageModel(cfg).Complete(ctx, apiKey, llm.Prompt{
		System: cfg.Completion.SystemPrompt,
		User:   strings.Join(args, " "),
	})
	if err != nil {
		logs.main.Fatal("complete", "error", err.Error())
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(72),
	)
	if err != nil {
		logs.main.Fatal("failed to create renderer", "error", err.Error())
	}

	rendered, err := renderer.Render(answer)
	if err != nil {
		fmt.Println(answer)
		return
	}
	fmt.Print(rendered)
}
