package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/gate-attendance/internal/attendance"
	"github.com/kozaktomas/gate-attendance/internal/config"
	"github.com/kozaktomas/gate-attendance/internal/database"
	"github.com/kozaktomas/gate-attendance/internal/gate"
	"github.com/kozaktomas/gate-attendance/internal/gateconfig"
	"github.com/kozaktomas/gate-attendance/internal/logger"
	"github.com/kozaktomas/gate-attendance/internal/matcher"
	"github.com/kozaktomas/gate-attendance/internal/metrics"
	"github.com/kozaktomas/gate-attendance/internal/notify"
	"github.com/kozaktomas/gate-attendance/internal/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance API server",
	Long: `Start the Gate Attendance API server.
The server matches probe embeddings sent by the gate cameras, records
arrivals and departures, queues gate-open triggers for the gate controller
and notifies guardians in the background.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

func matcherOptions(cfg *config.Config, met *metrics.Metrics) matcher.Options {
	return matcher.Options{
		Threshold:    cfg.Matcher.Threshold,
		TTL:          cfg.Matcher.CacheTTL,
		BatchWorkers: cfg.Matcher.BatchWorkers,
		Metrics:      met,
	}
}

// gatePublishers connects the optional NATS and MQTT mirrors. A mirror that cannot connect
// is skipped; the polling queue keeps working without it.
func gatePublishers(cfg config.GateConfig, log *logger.Logger) []gate.Publisher {
	var publishers []gate.Publisher
	if cfg.NATSURL != "" {
		p, err := gate.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			log.Warn("NATS gate mirror disabled", "url", cfg.NATSURL, "error", err)
		} else {
			fmt.Printf("Mirroring gate triggers to NATS subject %s\n", cfg.NATSSubject)
			publishers = append(publishers, p)
		}
	}
	if cfg.MQTTBroker != "" {
		p, err := gate.NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClient, cfg.MQTTTopic)
		if err != nil {
			log.Warn("MQTT gate mirror disabled", "broker", cfg.MQTTBroker, "error", err)
		} else {
			fmt.Printf("Mirroring gate triggers to MQTT topic %s\n", cfg.MQTTTopic)
			publishers = append(publishers, p)
		}
	}
	return publishers
}

// notificationTransports builds the shoutrrr transports for the configured channels.
func notificationTransports(cfg config.NotifyConfig) (map[notify.Channel]notify.Transport, error) {
	transports := make(map[notify.Channel]notify.Transport)
	if cfg.EmailURL != "" {
		t, err := notify.NewShoutrrrTransport(cfg.EmailURL, cfg.SendTimeout)
		if err != nil {
			return nil, fmt.Errorf("email transport: %w", err)
		}
		transports[notify.ChannelEmail] = t
	}
	if cfg.SMSURL != "" {
		t, err := notify.NewShoutrrrTransport(cfg.SMSURL, cfg.SendTimeout)
		if err != nil {
			return nil, fmt.Errorf("sms transport: %w", err)
		}
		transports[notify.ChannelSMS] = t
	}
	return transports, nil
}

func newDispatcher(cfg *config.Config, guardians database.GuardianReader, marker notify.NotifiedMarker,
	log *logger.Logger, met *metrics.Metrics) (*notify.Dispatcher, error) {
	composer, err := notify.NewComposer(cfg.Messages, cfg.Recorder.Location())
	if err != nil {
		return nil, err
	}
	transports, err := notificationTransports(cfg.Notify)
	if err != nil {
		return nil, err
	}
	if len(transports) == 0 {
		fmt.Printf("Warning: no notification transport configured, guardians will not be notified\n")
	}
	return notify.NewDispatcher(guardians, marker, composer, transports, log, met, notify.Options{
		Workers:     cfg.Notify.Workers,
		QueueSize:   cfg.Notify.QueueSize,
		SendTimeout: cfg.Notify.SendTimeout,
	}), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met, err := metrics.New(registry)
	if err != nil {
		return err
	}

	m := matcher.New(st.registry, log, matcherOptions(cfg, met))
	go m.Run(ctx)

	signaler := gate.NewSignaler(gate.NewQueue(), log, met, gatePublishers(cfg.Gate, log)...)
	defer signaler.Close()

	dispatcher, err := newDispatcher(cfg, st.registry, st.attendance, log, met)
	if err != nil {
		return err
	}
	dispatcher.Start()

	provider := gateconfig.NewProvider(st.settings, cfg.Recorder.SnapshotTTL, log)
	recorder := attendance.NewRecorder(st.registry, st.attendance, provider, signaler, dispatcher, log, attendance.Options{
		Location: cfg.Recorder.Location(),
		Metrics:  met,
	})

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(cfg, port, host, web.Services{
		Matcher:  m,
		Recorder: recorder,
		Gate:     signaler,
		Settings: provider,
		Metrics:  met.Handler(),
	}, log)

	go func() {
		<-ctx.Done()
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Gate Attendance API on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	// Let queued notifications go out before the stores close.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Notify.SendTimeout+5*time.Second)
	defer drainCancel()
	dispatcher.Stop(drainCtx)
	return nil
}
