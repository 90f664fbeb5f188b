// Package wire defines the device-facing protocol messages and the
// hand-built gRPC service descriptors they travel under. Messages are plain
// Go structs encoded with CBOR; the descriptor shapes mirror what
// protoc-gen-go-grpc would emit so the transport behaves exactly like a
// generated service.
package wire

import "time"

// SubscribeRequest opens a device's streaming session for one stream kind.
type SubscribeRequest struct {
	DeviceID string `cbor:"device_id"`
	// LastReceivedDeliveryID is an opaque resume hint, honored only on the
	// content stream. The hub stores it; it does not replay.
	LastReceivedDeliveryID string `cbor:"last_received_delivery_id,omitempty"`
}

// SetClock instructs the device to adopt a simulated wall-clock time.
type SetClock struct {
	SimulatedTime time.Time `cbor:"simulated_time"`
}

// RequestReboot instructs the device to reboot after a delay.
type RequestReboot struct {
	DelaySeconds int `cbor:"delay_seconds"`
}

// UpdateNetwork instructs the device to join a different wireless network.
type UpdateNetwork struct {
	SSID     string `cbor:"ssid"`
	Password string `cbor:"password"`
}

// RotateScreen instructs the device to change its display orientation.
type RotateScreen struct {
	Orientation string `cbor:"orientation"`
	Fullscreen  *bool  `cbor:"fullscreen,omitempty"`
}

// CommandFrame is one command pushed to a device. Exactly one payload
// variant is set.
type CommandFrame struct {
	CommandID   string    `cbor:"command_id"`
	RequiresAck bool      `cbor:"requires_ack"`
	IssuedAt    time.Time `cbor:"issued_at"`

	SetClock      *SetClock      `cbor:"set_clock,omitempty"`
	RequestReboot *RequestReboot `cbor:"request_reboot,omitempty"`
	UpdateNetwork *UpdateNetwork `cbor:"update_network,omitempty"`
	RotateScreen  *RotateScreen  `cbor:"rotate_screen,omitempty"`
}

// CommandAck acknowledges a command frame.
type CommandAck struct {
	DeviceID  string `cbor:"device_id"`
	CommandID string `cbor:"command_id"`
	Status    string `cbor:"status"`
	Message   string `cbor:"message,omitempty"`
}

// Media describes one downloadable asset of a content package.
type Media struct {
	ID       string `cbor:"id"`
	Checksum string `cbor:"checksum"`
	URL      string `cbor:"url"`
}

// ContentFrame is one content package pushed to a device.
type ContentFrame struct {
	DeliveryID  string         `cbor:"delivery_id"`
	RequiresAck bool           `cbor:"requires_ack"`
	Content     map[string]any `cbor:"content,omitempty"`
	Media       []Media        `cbor:"media,omitempty"`
}

// MediaState reports the fetch outcome of one media asset.
type MediaState struct {
	MediaID string `cbor:"media_id"`
	OK      bool   `cbor:"ok"`
	Error   string `cbor:"error,omitempty"`
}

// ContentProgress carries the optional progress detail of a content ack.
type ContentProgress struct {
	Percent        float64      `cbor:"percent"`
	TotalMedia     int          `cbor:"total_media"`
	CompletedMedia int          `cbor:"completed_media"`
	FailedMedia    int          `cbor:"failed_media"`
	PerMediaState  []MediaState `cbor:"per_media_state,omitempty"`
}

// ContentAck acknowledges a content frame.
type ContentAck struct {
	DeviceID   string           `cbor:"device_id"`
	DeliveryID string           `cbor:"delivery_id"`
	Status     string           `cbor:"status"`
	Message    string           `cbor:"message,omitempty"`
	Progress   *ContentProgress `cbor:"progress,omitempty"`
}

// AckReceipt is the response to every acknowledge RPC.
type AckReceipt struct {
	Accepted          bool  `cbor:"accepted"`
	RetryAfterSeconds int64 `cbor:"retry_after_seconds"`
}

// TelemetryEvent is one uploaded telemetry event.
type TelemetryEvent struct {
	ID      []byte `cbor:"id"`
	Kind    string `cbor:"kind,omitempty"`
	AtMS    int64  `cbor:"at_ms"`
	Payload []byte `cbor:"payload,omitempty"`
}

// QueueStatus reports the device-side upload queue state.
type QueueStatus struct {
	QueuedEvents   int  `cbor:"queued_events"`
	DroppedEvents  int  `cbor:"dropped_events"`
	QueueExhausted bool `cbor:"queue_exhausted"`
}

// TelemetryBatch is one telemetry upload.
type TelemetryBatch struct {
	BatchID           []byte           `cbor:"batch_id"`
	DeviceFingerprint uint32           `cbor:"device_fingerprint"`
	Events            []TelemetryEvent `cbor:"events"`
	QueueStatus       *QueueStatus     `cbor:"queue_status,omitempty"`
	SentAtMS          int64            `cbor:"sent_at_ms"`
}

// BatchAck is the ingest acknowledgement for a telemetry batch.
type BatchAck struct {
	BatchID          []byte   `cbor:"batch_id"`
	Accepted         bool     `cbor:"accepted"`
	RejectedEventIDs [][]byte `cbor:"rejected_event_ids,omitempty"`
	ThrottleMS       int64    `cbor:"throttle_ms"`
	MaxBatchSize     int      `cbor:"max_batch_size"`
}
