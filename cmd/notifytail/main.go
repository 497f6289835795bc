package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/barberkit/notifyws"
)

func main() {
	cfgFile := flag.String("config", "", "Path to YAML config file")
	endpoint := flag.String("url", "", "Notification server websocket URL (overrides config and env)")
	logLevel := flag.String("log-level", "", "debug, info, warn or error (overrides config and env)")
	flag.Parse()

	cfg, err := loadConfig(*cfgFile, *endpoint, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	zerolog.SetGlobalLevel(notifyws.ParseLevel(cfg.LogLevel))
	z := zerolog.New(os.Stderr).With().Timestamp().Logger()
	log := notifyws.NewLogger(z)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, z); err != nil {
		log.Errorf("notifytail: %s", err)
		os.Exit(1)
	}
}

func loadConfig(path, endpoint, level string) (*notifyws.Config, error) {
	cfg := notifyws.DefaultConfig()
	if path != "" {
		c, err := notifyws.LoadConfigFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	}

	if err := notifyws.ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if level != "" {
		cfg.LogLevel = level
	}

	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg *notifyws.Config, z zerolog.Logger) error {
	log := notifyws.NewLogger(z)

	var metrics *notifyws.Metrics
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		m, err := notifyws.NewMetrics(reg)
		if err != nil {
			return err
		}
		metrics = m
		go serveMetrics(ctx, cfg.MetricsAddr, reg, z)
	}

	factory, err := cfg.NewWebsocketTransportFactory(log)
	if err != nil {
		return err
	}

	channel := notifyws.NewChannel(log, factory, cfg.Backoff(), metrics)

	var tokens notifyws.TokenGetter
	if cfg.Token != "" {
		tokens = notifyws.StaticToken(cfg.Token)
	}
	api, err := notifyws.NewNotificationsAPI(log, cfg.APIBaseURL, tokens, nil)
	if err != nil {
		return err
	}

	unsubscribePrinter := channel.SubscribeFunc(func(e notifyws.Event) {
		printEvent(z, e)
	})
	defer unsubscribePrinter()

	unsubscribeCatchUp := channel.Subscribe(notifyws.NewCatchUp(log, api, cfg.CatchUpInterval, func(items []notifyws.Notification) {
		for _, n := range items {
			z.Info().
				Str("id", n.ID).
				Str("title", n.Title).
				Time("created_at", n.CreatedAt).
				Msg("missed notification")
		}
	}))
	defer unsubscribeCatchUp()

	// ctx only signals shutdown; Disconnect ends the connection.
	channel.Connect(context.Background())
	<-ctx.Done()
	channel.Disconnect()

	return nil
}

func printEvent(z zerolog.Logger, e notifyws.Event) {
	switch ev := e.(type) {
	case notifyws.ConnectionEvent:
		entry := z.Info().Str("status", ev.Status.String())
		if ev.Attempt != nil {
			entry = entry.Int("attempt", *ev.Attempt)
		}
		if ev.Message != "" {
			entry = entry.Str("reason", ev.Message)
		}
		entry.Msg("connection")
	case notifyws.NotificationEvent:
		var pretty any
		if err := json.Unmarshal(ev.Payload, &pretty); err != nil {
			z.Info().Bytes("payload", ev.Payload).Msg("notification")
			return
		}
		z.Info().Interface("payload", pretty).Msg("notification")
	case notifyws.ErrorEvent:
		z.Warn().Err(ev.Cause).Str("message", ev.Message).Msg("transport error")
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, z zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	z.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		z.Error().Err(err).Msg("metrics server stopped")
	}
}
