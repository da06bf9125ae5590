package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/murmur/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write API keys to the user config file",
	Run:   runSetup,
}

type setupAnswers struct {
	Provider    string
	DeepgramKey string
	Completion  string
}

func runSetup(cmd *cobra.Command, args []string) {
	log.Info("Starting murmur setup...")

	dir, err := configDir()
	if err != nil {
		log.Fatal("Failed to find home directory", "error", err)
	}
	path := filepath.Join(dir, "config.yaml")

	answers := setupAnswers{Provider: viper.GetString("completion.provider")}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Choose a completion provider").
				Options(
					huh.NewOption("Groq", config.ProviderGroq),
					huh.NewOption("OpenAI", config.ProviderOpenAI),
					huh.NewOption("Gemini", config.ProviderGemini),
				).
				Value(&answers.Provider),
			huh.NewInput().
				Title("Enter your Deepgram API Key").
				EchoMode(huh.EchoModePassword).
				Value(&answers.DeepgramKey),
			huh.NewInput().
				Title("Enter your completion provider API Key").
				EchoMode(huh.EchoModePassword).
				Value(&answers.Completion),
		),
	)

	if err := form.Run(); err != nil {
		log.Fatal("Error during setup", "error", err)
	}

	if err := writeSetup(path, answers); err != nil {
		log.Fatal("Error saving configuration", "error", err)
	}

	log.Info("Setup completed successfully!", "path", path)
}

// writeSetup merges the answers into the config file at path, keeping any
// other settings already there.
func writeSetup(path string, a setupAnswers) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	out := viper.New()
	out.SetConfigFile(path)
	if err := out.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	out.Set("completion.provider", a.Provider)
	if a.DeepgramKey != "" {
		out.Set("deepgram.api_key", a.DeepgramKey)
		out.Set("server.deepgram_api_key", a.DeepgramKey)
	}
	if a.Completion != "" {
		// Gemini keys are used directly; the others go through /api/groq.
		if a.Provider == config.ProviderGemini {
			out.Set("completion.api_key", a.Completion)
		} else {
			out.Set("server.completion_api_key", a.Completion)
		}
	}

	return out.WriteConfigAs(path)
}
