package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/auralink/aura/pkg/aura"
	"github.com/auralink/aura/pkg/capture/malgodev"
	"github.com/auralink/aura/pkg/codec"
	"github.com/auralink/aura/pkg/configutil"
	"github.com/auralink/aura/pkg/logging"
	"github.com/auralink/aura/pkg/metrics"
	"github.com/auralink/aura/pkg/observers"
	"github.com/auralink/aura/pkg/playback/otosink"
	"github.com/auralink/aura/pkg/runner"
	"github.com/auralink/aura/pkg/transports"
	"github.com/auralink/aura/pkg/transports/liveapi"
	"github.com/auralink/aura/pkg/transports/mock"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "aura:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := aura.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	slog.SetDefault(logging.InitLogger(parseLevel(cfg.LogLevel), cfg.LogFormat))
	log := logging.NewComponentLogger(slog.Default(), "main")

	factory, err := buildTransportFactory(cfg)
	if err != nil {
		return err
	}

	sink, err := otosink.New(otosink.Config{SampleRate: cfg.Capture.SampleRate})
	if err != nil {
		return err
	}
	defer sink.Close()

	device := malgodev.New()
	defer device.Close()

	sampled := metrics.NewSamplingObserver(observers.NewLoggerObserver(slog.Default()), cfg.Observability.SampleRate)
	sinks := []metrics.Observer{sampled, observers.NewLatencyObserver(slog.Default())}
	if cfg.Observability.MetricsPath != "" {
		mf, err := os.OpenFile(cfg.Observability.MetricsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open metrics file: %w", err)
		}
		defer mf.Close()
		sinks = append(sinks, metrics.NewJSONLObserver(mf))
	}
	obs := metrics.NewAsyncObserver(observers.NewMultiObserver(sinks...), 0)
	defer obs.Close()

	var dec codec.Decoder
	switch strings.ToLower(cfg.Playback.Codec) {
	case "", "pcm16":
		dec = codec.PCMPassthrough{}
	case "opus":
		dec, err = codec.NewOpusDecoder(cfg.Capture.SampleRate, 1)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported playback codec %q", cfg.Playback.Codec)
	}

	engine, err := aura.New(cfg, aura.Deps{
		Device:       device,
		Output:       sink,
		NewTransport: factory,
		Observer:     obs,
		Decoder:      dec,
	})
	if err != nil {
		return err
	}

	lr := runner.NewLifecycleRunner(
		runner.DrainerFunc(engine.Disconnect),
		runner.Hooks{
			OnStart: func() {
				if err := engine.Connect(context.Background()); err != nil {
					log.Error("connect_failed", "error", err.Error())
				}
			},
		},
		15*time.Second,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return lr.Run(ctx)
}

func buildTransportFactory(cfg aura.Config) (aura.TransportFactory, error) {
	switch strings.ToLower(cfg.Transport.Provider) {
	case "liveapi":
		if err := configutil.ValidateSettings(cfg.Transport.Settings, liveapi.SettingsSchema); err != nil {
			return nil, fmt.Errorf("transport settings: %w", err)
		}
		var tc liveapi.Config
		if err := configutil.DecodeSettings(cfg.Transport.Settings, &tc); err != nil {
			return nil, fmt.Errorf("transport settings: %w", err)
		}
		f := liveapi.Factory(tc)
		return func(p transports.SessionParams) transports.Transport { return f(p) }, nil
	case "mock":
		return func(transports.SessionParams) transports.Transport { return mock.New() }, nil
	default:
		return nil, fmt.Errorf("unknown transport provider %q", cfg.Transport.Provider)
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
