package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	speech "cloud.google.com/go/speech/apiv1"

	"maestro/internal/assistant"
	"maestro/internal/calib"
	"maestro/internal/events"
	"maestro/internal/ipc"
	"maestro/internal/listen"
	"maestro/internal/notify"
	"maestro/internal/proxy"
	"maestro/internal/spotify"
	"maestro/internal/transcribe"
	"maestro/internal/tts"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy address (empty for direct)")
	socketPath := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Control socket path")
	eventsAddr := cli.String("events", "", "Event feed listen address, e.g. 127.0.0.1:8092 (empty to disable)")
	calibFlag := cli.String("calib-dir", "", "Calibration profile directory (default $MAESTRO_CALIBRATION_DIR or ~/.maestro)")
	dumpDir := cli.String("dump-dir", "", "Directory for captured-audio WAV dumps (empty to disable)")
	chimePath := cli.String("chime", "", "Wake chime MP3 path (empty to disable)")
	wakeFlag := cli.StringP("wake", "w", "", "Initial wake word (default $MAESTRO_WAKE_WORD; profile overrides)")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	log.Info("Booting up")

	godotenv.Load(*envFile)

	calibDir := firstNonEmpty(*calibFlag, os.Getenv("MAESTRO_CALIBRATION_DIR"), defaultCalibDir())
	wakeWord := firstNonEmpty(*wakeFlag, os.Getenv("MAESTRO_WAKE_WORD"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := listen.NewRecorder(*dumpDir)
	if err := rec.Init(); err != nil {
		log.Error("Failed to init audio", "err", err)
		os.Exit(1)
	}
	defer rec.Close()

	log.Debug("Loaded recorder", "microphones", rec.MicrophoneCount())

	speechClient, err := speech.NewClient(ctx)
	if err != nil {
		log.Error("Failed to init speech client", "err", err)
		os.Exit(1)
	}
	defer speechClient.Close()

	gateway := transcribe.NewGateway(speechClient, transcribe.NewPacer(transcribe.DefaultCallsPerMinute))

	log.Debug("Loaded speech gateway")

	store, err := calib.NewStore(calibDir, "calibration.json")
	if err != nil {
		log.Error("Failed to open calibration store", "err", err)
		os.Exit(1)
	}

	httpClient, err := proxy.NewHTTPClient(*proxyAddr)
	if err != nil {
		log.Error("Failed to dial socks proxy", "proxy", *proxyAddr, "err", err)
		os.Exit(1)
	}

	notifier := notify.New()

	tokenCache := os.Getenv("SPOTIFY_TOKEN_CACHE")
	if tokenCache == "" {
		tokenCache = calibDir + "/spotify_token.json"
	}
	redirectURI := os.Getenv("SPOTIFY_REDIRECT_URI")
	if redirectURI == "" {
		redirectURI = "http://127.0.0.1:8898/callback"
	}

	spotClient, err := spotify.NewClient(ctx, spotify.Credentials{
		ClientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
		ClientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),
		RedirectURI:  redirectURI,
		TokenCache:   tokenCache,
	}, httpClient)
	if err != nil {
		log.Error("Failed to authenticate with Spotify", "err", err)
		os.Exit(1)
	}
	controller := spotify.NewController(spotClient, notifier)
	if err := controller.Verify(ctx); err != nil {
		log.Error("Spotify verification failed", "err", err)
		os.Exit(1)
	}

	var hub *events.Hub
	if *eventsAddr != "" {
		hub = events.NewHub()
		go func() {
			if err := hub.Serve(*eventsAddr); err != nil {
				log.Error("Event feed stopped", "err", err)
			}
		}()
		log.Debug("Event feed listening", "addr", *eventsAddr)
	}

	loop := assistant.New(assistant.Config{
		Listener:    rec,
		Transcriber: gateway,
		Store:       store,
		Playback:    controller,
		Notifier:    notifier,
		Speech:      tts.New(),
		Ducker:      listen.NewDucker([]string{"maestro", "espeak"}, 20),
		Chime:       chimeOrNil(*chimePath),
		Events:      eventsOrNil(hub),
		WakeWord:    wakeWord,
	})

	if err := ipc.StartServer(*socketPath, func(msg ipc.ControlMessage) {
		switch msg.Cmd {
		case "textmode":
			loop.EnterTextMode()
		case "voice":
			// Leaving text mode happens via the "voice" line command;
			// nothing to do from the socket side.
			log.Warn("Use the 'voice' text command to resume voice mode")
		case "recalibrate":
			loop.RequestRecalibrate()
		case "wake":
			if err := loop.RenameWakeWord(msg.Arg); err != nil {
				log.Warn("Wake word rejected", "arg", msg.Arg, "err", err)
			}
		case "quit":
			loop.Stop()
		default:
			log.Warn("Unknown command", "cmd", msg.Cmd)
		}
	}); err != nil {
		log.Error("Failed ipc server", "err", err)
		os.Exit(1)
	}
	defer os.Remove(*socketPath)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range sigs {
			switch sig {
			case syscall.SIGINT:
				// First Ctrl-C drops to text mode so the terminal
				// stays usable; a second one quits.
				if loop.Mode() == assistant.ModeText {
					loop.Stop()
				} else {
					loop.EnterTextMode()
				}
			case syscall.SIGTERM:
				loop.Stop()
			}
		}
	}()

	log.Info("Boot up - successful")

	if err := loop.Run(ctx); err != nil {
		log.Error("Assistant exited", "err", err)
		os.Exit(1)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func defaultCalibDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".maestro"
	}
	return home + "/.maestro"
}

// chimeOrNil keeps the loop's nil-means-noop convention for optional pieces.
func chimeOrNil(path string) assistant.Chime {
	if path == "" {
		return nil
	}
	return notify.NewChime(path)
}

func eventsOrNil(hub *events.Hub) assistant.EventSink {
	if hub == nil {
		return nil
	}
	return hub
}
