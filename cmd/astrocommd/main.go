// Command astrocommd runs the broker: it wires the registry, authenticator
// and whichever transports are enabled into a broker.Broker and serves the
// REST/WebSocket API alongside it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rustyeddy/astrocomm/auth"
	"github.com/rustyeddy/astrocomm/broker"
	"github.com/rustyeddy/astrocomm/bridge"
	"github.com/rustyeddy/astrocomm/logging"
	"github.com/rustyeddy/astrocomm/persistence"
	"github.com/rustyeddy/astrocomm/registry"
	"github.com/rustyeddy/astrocomm/server"
	"github.com/rustyeddy/astrocomm/transport"
)

var cfg = viper.New()

var rootCmd = &cobra.Command{
	Use:           "astrocommd",
	Short:         "astrocommd is the device control and telemetry broker",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("config", "", "path to a config file (yaml/json/toml, see viper)")
	flags.String("tcp-addr", ":7011", "address for the line-delimited TCP transport")
	flags.String("http-addr", ":8011", "address for the REST/WebSocket HTTP server")
	flags.String("mqtt-broker", "", "MQTT broker URL (e.g. tcp://localhost:1883); empty disables MQTT")
	flags.String("federation-addr", "", "UDP multicast address for presence federation (e.g. 239.0.0.1:9999); empty disables")
	flags.Duration("federation-interval", 10*time.Second, "how often to publish a federation presence digest")
	flags.String("snapshot-path", "astrocomm-registry.json", "path to the registry snapshot file")
	flags.StringSlice("user", nil, "bootstrap a user as name:password (repeatable)")
	flags.String("log-level", logging.DefaultLevel, "log level (debug, info, warn, error)")
	flags.String("log-format", logging.DefaultFormat, "log format (text, json)")
	flags.String("log-output", logging.DefaultOutput, "log output (stdout, stderr, file)")
	flags.String("log-file", "", "log file path (required when log-output=file)")

	cfg.BindPFlags(flags)
	cfg.SetEnvPrefix("astrocommd")
	cfg.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("astrocommd failed", "error", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if path := cfg.GetString("config"); path != "" {
		cfg.SetConfigFile(path)
		if err := cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
	}

	logOutput := cfg.GetString("log-output")
	logFile := cfg.GetString("log-file")
	if strings.EqualFold(logOutput, "file") && strings.TrimSpace(logFile) == "" {
		return errors.New("log-output=file requires --log-file")
	}
	logSvc, err := logging.NewService(logging.Config{
		Level:    cfg.GetString("log-level"),
		Format:   cfg.GetString("log-format"),
		Output:   logOutput,
		FilePath: logFile,
	})
	if err != nil {
		return fmt.Errorf("starting log service: %w", err)
	}

	store := persistence.NewFileStore(cfg.GetString("snapshot-path"))
	reg := registry.New(registry.WithPersistence(store, 5*time.Second))

	authn := auth.New(auth.DefaultConfig())
	for _, u := range cfg.GetStringSlice("user") {
		name, pass, ok := strings.Cut(u, ":")
		if !ok {
			return fmt.Errorf("--user %q must be name:password", u)
		}
		authn.AddUser(name, pass)
	}

	bcfg := broker.DefaultConfig()
	b := broker.New(bcfg, reg, nil, authn)

	if addr := cfg.GetString("tcp-addr"); addr != "" {
		b.AddTransport("tcp", transport.NewTCP(addr, transport.DefaultOptions("tcp")))
	}

	ws := transport.NewWebSocketServer(transport.DefaultOptions("websocket"))
	b.AddTransport("websocket", ws)

	if brokerURL := cfg.GetString("mqtt-broker"); brokerURL != "" {
		b.AddTransport("mqtt", transport.NewMQTT(transport.MQTTConfig{
			Broker:   brokerURL,
			ClientID: "astrocommd",
		}, transport.DefaultOptions("mqtt")))
	}

	srv := server.NewServer()
	srv.Addr = cfg.GetString("http-addr")
	srv.SetBrokerStats(b)
	srv.SetDeviceLister(b.Registry)
	srv.SetWebSocket(ws)
	srv.SetLogService(logSvc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("starting broker: %w", err)
	}

	if addr := cfg.GetString("federation-addr"); addr != "" {
		pub := bridge.NewFederationPublisher(b.Registry, addr, cfg.GetDuration("federation-interval"))
		go func() {
			if err := pub.Run(ctx); err != nil {
				slog.Warn("federation publisher stopped", "error", err)
			}
		}()
	}

	done := make(chan any)
	go srv.Start(done)

	slog.Info("astrocommd running", "tcp", cfg.GetString("tcp-addr"), "http", cfg.GetString("http-addr"))
	<-ctx.Done()
	slog.Info("shutting down")
	b.Stop(5 * time.Second)
	close(done)
	return nil
}
