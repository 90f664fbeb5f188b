// Package analytics holds the domain model for the telemetry ingestion
// service: device-uploaded event batches, the ingest policy, and the
// acknowledgement returned to devices. Analytics has no session with the
// dispatch engine; it is a separate service.
package analytics

import (
	"errors"
	"fmt"
	"time"
)

// Identifier length requirements, in bytes.
const (
	BatchIDLength = 16
	EventIDLength = 16
)

// Batch validation errors.
var (
	ErrInvalidBatchID = fmt.Errorf("batch id must be exactly %d bytes", BatchIDLength)
	ErrEmptyBatch     = errors.New("batch contains no events")
	ErrBatchTooLarge  = errors.New("batch exceeds the maximum batch size")
)

// Event is one telemetry event uploaded by a device. The payload is opaque
// to the transport; the service validates only the event id.
type Event struct {
	ID      []byte `json:"id"`
	Kind    string `json:"kind,omitempty"`
	AtMS    int64  `json:"at_ms"`
	Payload []byte `json:"payload,omitempty"`
}

// QueueStatus reports the device-side upload queue state, carried
// opportunistically on a batch.
type QueueStatus struct {
	QueuedEvents   int  `json:"queued_events"`
	DroppedEvents  int  `json:"dropped_events"`
	QueueExhausted bool `json:"queue_exhausted"`
}

// Batch is one telemetry upload from a device.
type Batch struct {
	BatchID           []byte       `json:"batch_id"`
	DeviceFingerprint uint32       `json:"device_fingerprint"`
	Events            []Event      `json:"events"`
	QueueStatus       *QueueStatus `json:"queue_status,omitempty"`
	SentAtMS          int64        `json:"sent_at_ms"`
}

// Policy is the ingest policy advertised back to devices on every ack.
type Policy struct {
	MaxBatchSize int `json:"max_batch_size"`
}

// Ack is the ingest acknowledgement returned for a batch. RejectedEventIDs
// lists events dropped by per-event validation; ThrottleMS is a non-binding
// request that the device slow its upload cadence.
type Ack struct {
	BatchID          []byte   `json:"batch_id"`
	Accepted         bool     `json:"accepted"`
	RejectedEventIDs [][]byte `json:"rejected_event_ids,omitempty"`
	ThrottleMS       int64    `json:"throttle_ms"`
	Policy           Policy   `json:"policy"`
}

// DeviceStats aggregates stored telemetry for one device fingerprint.
type DeviceStats struct {
	DeviceFingerprint uint32         `json:"device_fingerprint"`
	StoredEvents      int            `json:"stored_events"`
	EventsByKind      map[string]int `json:"events_by_kind"`
	LastBatchAt       time.Time      `json:"last_batch_at"`
}
