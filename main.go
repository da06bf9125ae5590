package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/murmur/config"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)

	listenCmd.Flags().
		Bool("pick", false, "Choose the input device interactively")
	transcribeCmd.Flags().
		String("url", "", "Transcription endpoint; talks to Deepgram directly when empty")

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(setupCmd)

	rootCmd.PersistentFlags().
		String("deepgram-api-key", "", "Deepgram API key")
	rootCmd.PersistentFlags().
		String("groq-api-key", "", "Completion API key served at /api/groq")
	rootCmd.PersistentFlags().
		String("provider", "groq", "Completion provider: groq, openai or gemini")
	rootCmd.PersistentFlags().String("device", "", "Input device id or name")
	rootCmd.PersistentFlags().String("addr", ":8787", "HTTP server address")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level")

	viper.BindPFlag(
		"deepgram.api_key",
		rootCmd.PersistentFlags().Lookup("deepgram-api-key"),
	)
	viper.BindPFlag(
		"server.deepgram_api_key",
		rootCmd.PersistentFlags().Lookup("deepgram-api-key"),
	)
	viper.BindPFlag(
		"server.completion_api_key",
		rootCmd.PersistentFlags().Lookup("groq-api-key"),
	)
	viper.BindPFlag(
		"completion.provider",
		rootCmd.PersistentFlags().Lookup("provider"),
	)
	viper.BindPFlag("audio.device", rootCmd.PersistentFlags().Lookup("device"))
	viper.BindPFlag("server.addr", rootCmd.PersistentFlags().Lookup("addr"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if dir, err := configDir(); err == nil {
		viper.AddConfigPath(dir)
	}

	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		fmt.Printf("Error reading config file: %s\n", err)
	}

	logger = log.New(os.Stderr)
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "murmur"), nil
}

var rootCmd = &cobra.Command{
	Use:   "murmur",
	Short: "Live captions with spoken-style answers",
	Long: `Murmur listens to your microphone, shows live captions from Deepgram
and answers each utterance with a short reply from a chat model.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		logger.Fatal("load config", "error", err.Error())
	}
	return cfg
}

type loggers struct {
	main *log.Logger
	mic  *log.Logger
	hear *log.Logger
	chat *log.Logger
	live *log.Logger
	http *log.Logger
}

func createLoggers(level string) loggers {
	logLevel, err := log.ParseLevel(level)
	if err != nil {
		logLevel = log.InfoLevel
	}

	logger.SetLevel(logLevel)
	logger.SetReportCaller(true)
	logger.SetCallerFormatter(
		func(file string, line int, funcName string) string {
			path, err := filepath.Rel(".", file)
			if err != nil {
				path = file
			}
			return fmt.Sprintf("%s:%d", path, line)
		},
	)

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.MarginTop(1).
		Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	styles.Levels[log.InfoLevel] = styles.Levels[log.InfoLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Levels[log.ErrorLevel] = styles.Levels[log.ErrorLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Message = styles.Message.Bold(true).Width(24)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))

	logger.SetStyles(styles)

	return loggers{
		main: logger.With().WithPrefix("main"),
		mic:  logger.With().WithPrefix("mic"),
		hear: logger.With().WithPrefix("hear"),
		chat: logger.With().WithPrefix("chat"),
		live: logger.With().WithPrefix("live"),
		http: logger.With().WithPrefix("http"),
	}
}
