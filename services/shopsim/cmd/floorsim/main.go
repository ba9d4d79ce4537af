package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"floorsight/pkg/bus"
	"floorsight/services/shopsim/internal/config"
	"floorsight/services/shopsim/internal/sim"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "floorsim",
		Short:         "Shop floor simulator and bus utilities",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newInjectCommand())
	cmd.AddCommand(newTapCommand())
	return cmd
}

func defaultClientID(role string) string {
	return role + "-" + uuid.NewString()[:8]
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}

func loadFleet(path string) (config.Fleet, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

func newRunCommand() *cobra.Command {
	var (
		brokerURL string
		clientID  string
		fleetFile string
		tick      time.Duration
		maxTicks  int
		seedJobs  int
		seed      int64
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the shop floor simulation against a broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := newLogger(verbose)

			fleet, err := loadFleet(fleetFile)
			if err != nil {
				return err
			}
			if seedJobs >= 0 {
				fleet.SeedJobs = seedJobs
			}
			if clientID == "" {
				clientID = defaultClientID("floorsim")
			}

			conn, err := bus.Dial(brokerURL, clientID)
			if err != nil {
				return fmt.Errorf("connect broker: %w", err)
			}
			defer conn.Close()

			shop, err := sim.NewShop(sim.Options{
				Machines:    fleet.Params(),
				SeedJobs:    fleet.SeedJobs,
				IHAInterval: fleet.IHAInterval,
				Seed:        seed,
			}, conn, logger)
			if err != nil {
				return err
			}

			logger.Info().
				Int("machines", len(fleet.Machines)).
				Int("seed_jobs", fleet.SeedJobs).
				Str("broker", brokerURL).
				Msg("simulation starting")

			if err := shop.Run(ctx, tick, maxTicks); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&brokerURL, "broker", "tcp://localhost:1883", "Broker URL (mqtt, ws or nats scheme)")
	cmd.Flags().StringVar(&clientID, "client-id", "", "Bus client id (random suffix when empty)")
	cmd.Flags().StringVar(&fleetFile, "fleet", "", "Fleet YAML file (embedded default when empty)")
	cmd.Flags().DurationVar(&tick, "tick", time.Second, "Wall-clock duration of one simulation tick")
	cmd.Flags().IntVar(&maxTicks, "max-ticks", 1000, "Stop after this many ticks (0 = run until drained)")
	cmd.Flags().IntVar(&seedJobs, "seed-jobs", -1, "Jobs queued at start (-1 = fleet file value)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Random seed (0 = derive from clock)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	return cmd
}

func newInjectCommand() *cobra.Command {
	var (
		brokerURL string
		clientID  string
		topic     string
		payload   string
		retain    bool
		eventType string
		jobID     string
		machineID string
		reason    string
	)

	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Publish a single frame onto the bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := []byte(payload)
			if payload == "" {
				if eventType == "" {
					return errors.New("either --payload or --type is required")
				}
				doc := map[string]any{
					"type":      eventType,
					"timestamp": time.Now().Unix(),
				}
				if jobID != "" {
					doc["job_id"] = jobID
				}
				if machineID != "" {
					doc["machine_id"] = machineID
				}
				if reason != "" {
					doc["reason"] = reason
				}
				var err error
				body, err = json.Marshal(doc)
				if err != nil {
					return err
				}
			}

			if clientID == "" {
				clientID = defaultClientID("floorsim-inject")
			}
			conn, err := bus.Dial(brokerURL, clientID)
			if err != nil {
				return fmt.Errorf("connect broker: %w", err)
			}
			defer conn.Close()

			if err := conn.Publish(topic, body, retain); err != nil {
				return fmt.Errorf("publish: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d bytes to %s\n", len(body), topic)
			return nil
		},
	}

	cmd.Flags().StringVar(&brokerURL, "broker", "tcp://localhost:1883", "Broker URL (mqtt, ws or nats scheme)")
	cmd.Flags().StringVar(&clientID, "client-id", "", "Bus client id (random suffix when empty)")
	cmd.Flags().StringVar(&topic, "topic", sim.DefaultEventTopic, "Destination topic")
	cmd.Flags().StringVar(&payload, "payload", "", "Raw JSON payload (overrides the typed flags)")
	cmd.Flags().BoolVar(&retain, "retain", false, "Retain the frame on the broker")
	cmd.Flags().StringVar(&eventType, "type", "", "Lifecycle event type (STARTED, STEP_DONE, PREDICTION, FAILED, COMPLETED)")
	cmd.Flags().StringVar(&jobID, "job", "", "Job id for the typed event")
	cmd.Flags().StringVar(&machineID, "machine", "", "Machine id for the typed event")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason field for the typed event")
	return cmd
}

func newTapCommand() *cobra.Command {
	var (
		brokerURL string
		clientID  string
		topics    []string
		raw       bool
	)

	cmd := &cobra.Command{
		Use:   "tap",
		Short: "Subscribe to bus topics and print every frame",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if clientID == "" {
				clientID = defaultClientID("floorsim-tap")
			}
			conn, err := bus.Dial(brokerURL, clientID)
			if err != nil {
				return fmt.Errorf("connect broker: %w", err)
			}
			defer conn.Close()

			out := cmd.OutOrStdout()
			var mu sync.Mutex
			err = conn.Subscribe(topics, func(topic string, payload []byte) {
				mu.Lock()
				defer mu.Unlock()
				stamp := time.Now().Format("15:04:05")
				if raw {
					fmt.Fprintf(out, "[%s] %s %s\n", stamp, topic, payload)
					return
				}
				var pretty bytes.Buffer
				if err := json.Indent(&pretty, payload, "", "  "); err != nil {
					fmt.Fprintf(out, "[%s] %s %s\n", stamp, topic, payload)
					return
				}
				fmt.Fprintf(out, "[%s] %s\n%s\n", stamp, topic, pretty.String())
			})
			if err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&brokerURL, "broker", "tcp://localhost:1883", "Broker URL (mqtt, ws or nats scheme)")
	cmd.Flags().StringVar(&clientID, "client-id", "", "Bus client id (random suffix when empty)")
	cmd.Flags().StringSliceVar(&topics, "topics", []string{sim.DefaultSnapshotTopic, sim.DefaultEventTopic, sim.DefaultTelemetryTopic}, "Topics to subscribe")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print payloads without indentation")
	return cmd
}
