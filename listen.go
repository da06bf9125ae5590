package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"node.town/murmur/caption"
	"node.town/murmur/config"
	"node.town/murmur/live"
	"node.town/murmur/llm"
	"node.town/murmur/mic"
	"node.town/murmur/mic/portaudio"
	"node.town/murmur/stt"
	"node.town/murmur/ui"
	"node.town/murmur/www"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Caption the microphone and answer each utterance",
	Run:   runListen,
}

func runListen(cmd *cobra.Command, args []string) {
	// listen returns instead of exiting so its deferred cleanup runs first.
	if err := listen(cmd); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func listen(cmd *cobra.Command) error {
	cfg := loadConfig()

	if cfg.Deepgram.APIKey == "" {
		logger.Fatal("missing DEEPGRAM_API_KEY or --deepgram-api-key=")
	}

	// The terminal belongs to the UI from here on.
	logFile, err := os.OpenFile(
		cfg.Log.File,
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0o644,
	)
	if err != nil {
		logger.Fatal("open log file", "error", err.Error())
	}
	defer logFile.Close()
	logger.SetOutput(logFile)
	logs := createLoggers(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if cfg.Server.Embedded {
		srv := newServer(cfg, logs.http)
		go func() {
			if err := srv.Serve(ctx); err != nil {
				logs.http.Error("serve", "error", err)
			}
		}()
	}

	device := portaudio.NewDevice(logs.mic)
	deviceID := cfg.Audio.Device
	if pick, _ := cmd.Flags().GetBool("pick"); pick {
		deviceID, err = pickDevice(ctx, device)
		if err != nil {
			logs.main.Error("pick device", "error", err)
			return fmt.Errorf("pick device: %w", err)
		}
	}

	capture := mic.NewController(device, mic.Options{
		Format:           cfg.SessionOptions().Format,
		Timeslice:        cfg.Audio.Timeslice,
		NoiseSuppression: cfg.Audio.NoiseSuppression,
		EchoCancellation: cfg.Audio.EchoCancellation,
	}, logs.mic)

	board := ui.NewBoard(ui.InitialCaption)
	dispatcher := llm.NewDispatcher(
		credentials(cfg),
		languageModel(cfg),
		board,
		cfg.DispatcherConfig(),
		logs.chat,
	)
	defer dispatcher.Close()

	router := caption.NewRouter(
		board,
		dispatcher,
		cfg.Session.CaptionExpiry,
		logs.live,
	)
	orchestrator := live.New(
		capture,
		stt.NewDeepgramClient(
			cfg.Deepgram.APIKey,
			cfg.Deepgram.BaseURL,
			logs.hear,
		),
		router,
		board,
		live.Config{
			DeviceID: deviceID,
			Session:  cfg.SessionOptions(),
			Heartbeat: live.NewHeartbeat(
				cfg.Session.KeepAliveInterval,
				logs.live,
			),
		},
		logs.live,
	)

	err = supervise(
		ctx,
		orchestrator.Run,
		func(ctx context.Context) error {
			return ui.Run(ctx, board, orchestrator)
		},
		logs.main,
	)
	if err != nil {
		logs.main.Error("listen", "error", err)
	}
	return err
}

// supervise runs the event loop beside the UI. Whichever ends first cancels
// the other, and the event loop's error is returned once it has exited.
func supervise(
	ctx context.Context,
	run func(context.Context) error,
	front func(context.Context) error,
	logger *log.Logger,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- run(ctx)
		cancel()
	}()

	if err := front(ctx); err != nil {
		logger.Error("ui", "error", err)
	}
	cancel()

	return <-errc
}

func pickDevice(ctx context.Context, device mic.Device) (string, error) {
	devices, err := device.Devices(ctx)
	if err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "", mic.ErrDeviceUnavailable
	}

	options := make([]huh.Option[string], len(devices))
	for i, d := range devices {
		label := d.Label
		if d.Default {
			label += " (default)"
		}
		options[i] = huh.NewOption(label, d.DeviceID)
	}

	var selected string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Choose an input device").
				Options(options...).
				Value(&selected),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}
	return selected, nil
}

func credentials(cfg *config.Config) llm.CredentialSource {
	if cfg.Completion.APIKey != "" {
		return llm.StaticCredentials(cfg.Completion.APIKey)
	}
	return &llm.HTTPCredentials{
		URL:        cfg.Completion.CredentialURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func languageModel(cfg *config.Config) llm.LanguageModel {
	baseURL, model := cfg.Endpoint()
	if cfg.Completion.Provider == config.ProviderGemini {
		return llm.NewGeminiLanguageModel(model)
	}
	return llm.NewOpenAILanguageModel(baseURL, model, nil)
}

func newServer(cfg *config.Config, httpLogger *log.Logger) *www.Server {
	return www.NewServer(www.Config{
		Addr:             cfg.Server.Addr,
		CompletionAPIKey: cfg.Server.CompletionAPIKey,
		DeepgramAPIKey:   cfg.Server.DeepgramAPIKey,
		DeepgramBaseURL:  cfg.Deepgram.BaseURL,
		DeepgramModel:    cfg.Deepgram.Model,
		MaxUploadBytes:   cfg.Server.MaxUploadBytes,
	}, httpLogger)
}
