// Command devicesim simulates one signage device: it keeps command and
// content subscriptions open against the hub, acknowledges every frame it
// receives that requires an ack, and uploads synthetic telemetry batches. Useful for exercising
// the hub end to end without real hardware.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/edgesignal/fleethub/internal/infra/rpc/wire"
	common "github.com/edgesignal/fleethub/pkg/common"
	"github.com/edgesignal/fleethub/pkg/common/logger"
)

func main() {
	var (
		hubAddr       = flag.String("hub", "127.0.0.1:9090", "hub gRPC address")
		deviceID      = flag.String("device", "", "device id (required)")
		ackDelay      = flag.Duration("ack-delay", 250*time.Millisecond, "delay between Received and the terminal ack")
		telemetryRate = flag.Duration("telemetry-interval", 15*time.Second, "interval between telemetry batches")
	)
	flag.Parse()

	if *deviceID == "" {
		log.Fatal("-device is required")
	}

	lg := logger.New(os.Stdout, logger.LevelDebug, fmt.Sprintf("DEVICESIM-%s", *deviceID), nil)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conn, err := grpc.NewClient(*hubAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to create connection: %v", err)
	}
	defer conn.Close()

	sim := &simulator{
		deviceID:  *deviceID,
		ackDelay:  *ackDelay,
		gateway:   wire.NewDeviceGatewayClient(conn),
		analytics: wire.NewAnalyticsIngestClient(conn),
		logger:    lg,
	}

	go sim.runWithReconnect(ctx, "commands", sim.commandLoop)
	go sim.runWithReconnect(ctx, "content", sim.contentLoop)
	go sim.telemetryLoop(ctx, *telemetryRate)

	<-ctx.Done()
	lg.Info(context.Background(), "shutting down")
}

type simulator struct {
	deviceID  string
	ackDelay  time.Duration
	gateway   *wire.DeviceGatewayClient
	analytics *wire.AnalyticsIngestClient
	logger    *logger.Logger

	lastDeliveryID string
}

// runWithReconnect keeps one subscription loop alive, reconnecting with
// exponential backoff whenever the loop returns an error. The backoff is
// not reset between reconnects; a loop that returns nil ends the retries.
func (s *simulator) runWithReconnect(ctx context.Context, name string, loop func(context.Context) error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxInterval = 30 * time.Second
	expBackoff.MaxElapsedTime = 0 // retry forever

	operation := func() error {
		if err := loop(ctx); err != nil {
			s.logger.Warn(ctx, "Stream ended, reconnecting", "stream", name, "error", err)
			return err
		}
		return nil
	}

	_ = backoff.Retry(func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return operation()
	}, backoff.WithContext(expBackoff, ctx))
}

func (s *simulator) commandLoop(ctx context.Context) error {
	stream, err := s.gateway.SubscribeCommands(ctx, &wire.SubscribeRequest{DeviceID: s.deviceID})
	if err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	s.logger.Info(ctx, "Command stream open")

	for {
		frame, err := stream.Recv()
		if err != nil {
			return fmt.Errorf("receiving command: %w", err)
		}

		s.logger.Info(ctx, "Command received", "command_id", frame.CommandID, "requires_ack", frame.RequiresAck)
		if !frame.RequiresAck {
			continue
		}

		s.ack(ctx, frame.CommandID, "RECEIVED", "")
		time.Sleep(s.ackDelay)
		s.ack(ctx, frame.CommandID, "COMPLETED", "")
	}
}

func (s *simulator) ack(ctx context.Context, commandID, status, message string) {
	_, err := s.gateway.AcknowledgeCommand(ctx, &wire.CommandAck{
		DeviceID:  s.deviceID,
		CommandID: commandID,
		Status:    status,
		Message:   message,
	})
	if err != nil {
		s.logger.Warn(ctx, "Failed to ack command", "command_id", commandID, "error", err)
	}
}

func (s *simulator) contentLoop(ctx context.Context) error {
	stream, err := s.gateway.SubscribeContent(ctx, &wire.SubscribeRequest{
		DeviceID:               s.deviceID,
		LastReceivedDeliveryID: s.lastDeliveryID,
	})
	if err != nil {
		return fmt.Errorf("subscribing to content: %w", err)
	}
	s.logger.Info(ctx, "Content stream open")

	for {
		frame, err := stream.Recv()
		if err != nil {
			return fmt.Errorf("receiving content: %w", err)
		}

		s.logger.Info(ctx, "Content received", "delivery_id", frame.DeliveryID, "media", len(frame.Media))
		s.lastDeliveryID = frame.DeliveryID
		if !frame.RequiresAck {
			continue
		}

		s.contentAck(ctx, frame.DeliveryID, "RECEIVED", nil)

		total := len(frame.Media)
		for i := range frame.Media {
			time.Sleep(s.ackDelay)
			s.contentAck(ctx, frame.DeliveryID, "IN_PROGRESS", &wire.ContentProgress{
				Percent:        float64(i+1) / float64(max(total, 1)) * 100,
				TotalMedia:     total,
				CompletedMedia: i + 1,
			})
		}

		s.contentAck(ctx, frame.DeliveryID, "COMPLETED", &wire.ContentProgress{
			Percent:        100,
			TotalMedia:     total,
			CompletedMedia: total,
		})
	}
}

func (s *simulator) contentAck(ctx context.Context, deliveryID, status string, progress *wire.ContentProgress) {
	_, err := s.gateway.AcknowledgeContent(ctx, &wire.ContentAck{
		DeviceID:   s.deviceID,
		DeliveryID: deliveryID,
		Status:     status,
		Progress:   progress,
	})
	if err != nil {
		s.logger.Warn(ctx, "Failed to ack content", "delivery_id", deliveryID, "error", err)
	}
}

// telemetryLoop uploads a synthetic batch on every tick, pacing itself with
// a local rate limiter so a tight interval cannot flood the hub.
func (s *simulator) telemetryLoop(ctx context.Context, interval time.Duration) {
	limiter := common.NewRateLimiter(2, 2)
	fingerprint := deviceFingerprint(s.deviceID)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := limiter.Wait(ctx); err != nil {
			return
		}

		batch := &wire.TelemetryBatch{
			BatchID:           randomID(),
			DeviceFingerprint: fingerprint,
			Events: []wire.TelemetryEvent{
				{ID: randomID(), Kind: "heartbeat", AtMS: time.Now().UnixMilli()},
				{ID: randomID(), Kind: "playback", AtMS: time.Now().UnixMilli()},
			},
			SentAtMS: time.Now().UnixMilli(),
		}

		ack, err := s.analytics.IngestBatch(ctx, batch)
		if err != nil {
			s.logger.Warn(ctx, "Telemetry upload failed", "error", err)
			continue
		}

		s.logger.Debug(ctx, "Telemetry uploaded",
			"accepted", ack.Accepted,
			"rejected_events", len(ack.RejectedEventIDs),
			"throttle_ms", ack.ThrottleMS,
		)
		if ack.ThrottleMS > 0 {
			time.Sleep(time.Duration(ack.ThrottleMS) * time.Millisecond)
		}
	}
}

func randomID() []byte {
	id := make([]byte, 16)
	_, _ = rand.Read(id)
	return id
}

func deviceFingerprint(deviceID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return h.Sum32()
}
