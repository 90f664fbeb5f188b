package wire

import (
	"github.com/edgesignal/fleethub/internal/domain/analytics"
	"github.com/edgesignal/fleethub/internal/domain/dispatch"
)

// CommandFrameFromDomain converts an outbound command frame to its wire
// shape.
func CommandFrameFromDomain(f *dispatch.CommandFrame) *CommandFrame {
	out := &CommandFrame{
		CommandID:   f.CommandID,
		RequiresAck: f.RequiresAck,
		IssuedAt:    f.IssuedAt,
	}
	if f.SetClock != nil {
		out.SetClock = &SetClock{SimulatedTime: f.SetClock.SimulatedTime}
	}
	if f.RequestReboot != nil {
		out.RequestReboot = &RequestReboot{DelaySeconds: f.RequestReboot.DelaySeconds}
	}
	if f.UpdateNetwork != nil {
		out.UpdateNetwork = &UpdateNetwork{SSID: f.UpdateNetwork.SSID, Password: f.UpdateNetwork.Password}
	}
	if f.RotateScreen != nil {
		out.RotateScreen = &RotateScreen{Orientation: f.RotateScreen.Orientation, Fullscreen: f.RotateScreen.Fullscreen}
	}
	return out
}

// ContentFrameFromDomain converts an outbound content frame to its wire
// shape.
func ContentFrameFromDomain(f *dispatch.ContentFrame) *ContentFrame {
	out := &ContentFrame{
		DeliveryID:  f.DeliveryID,
		RequiresAck: f.RequiresAck,
		Content:     f.Content,
	}
	for _, m := range f.Media {
		out.Media = append(out.Media, Media{ID: m.ID, Checksum: m.Checksum, URL: m.URL})
	}
	return out
}

// ContentProgressToDomain converts an inbound progress report.
func ContentProgressToDomain(p *ContentProgress) *dispatch.ContentProgress {
	if p == nil {
		return nil
	}
	out := &dispatch.ContentProgress{
		Percent:        p.Percent,
		TotalMedia:     p.TotalMedia,
		CompletedMedia: p.CompletedMedia,
		FailedMedia:    p.FailedMedia,
	}
	for _, ms := range p.PerMediaState {
		out.PerMediaState = append(out.PerMediaState, dispatch.MediaState{
			MediaID: ms.MediaID,
			OK:      ms.OK,
			Error:   ms.Error,
		})
	}
	return out
}

// BatchToDomain converts an uploaded telemetry batch.
func BatchToDomain(b *TelemetryBatch) analytics.Batch {
	out := analytics.Batch{
		BatchID:           b.BatchID,
		DeviceFingerprint: b.DeviceFingerprint,
		Events:            make([]analytics.Event, 0, len(b.Events)),
		SentAtMS:          b.SentAtMS,
	}
	for _, evt := range b.Events {
		out.Events = append(out.Events, analytics.Event{
			ID:      evt.ID,
			Kind:    evt.Kind,
			AtMS:    evt.AtMS,
			Payload: evt.Payload,
		})
	}
	if b.QueueStatus != nil {
		out.QueueStatus = &analytics.QueueStatus{
			QueuedEvents:   b.QueueStatus.QueuedEvents,
			DroppedEvents:  b.QueueStatus.DroppedEvents,
			QueueExhausted: b.QueueStatus.QueueExhausted,
		}
	}
	return out
}

// BatchAckFromDomain converts an ingest acknowledgement to its wire shape.
func BatchAckFromDomain(a analytics.Ack) *BatchAck {
	return &BatchAck{
		BatchID:          a.BatchID,
		Accepted:         a.Accepted,
		RejectedEventIDs: a.RejectedEventIDs,
		ThrottleMS:       a.ThrottleMS,
		MaxBatchSize:     a.Policy.MaxBatchSize,
	}
}
