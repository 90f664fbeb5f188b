package dispatch

// MediaState reports the outcome of fetching one media asset of a content
// delivery, as echoed back by the device.
type MediaState struct {
	MediaID string `json:"media_id"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// ContentProgress carries the optional progress detail of a content
// acknowledgement.
type ContentProgress struct {
	Percent        float64      `json:"percent"`
	TotalMedia     int          `json:"total_media"`
	CompletedMedia int          `json:"completed_media"`
	FailedMedia    int          `json:"failed_media"`
	PerMediaState  []MediaState `json:"per_media_state,omitempty"`
}

// Ack is one inbound acknowledgement from a device, normalized across the
// two stream kinds. Status is a CommandStatus or ContentStatus matching
// Kind; Progress is only set for content acks.
type Ack struct {
	Kind          StreamKind
	DeviceID      string
	CorrelationID string
	Status        AckStatus
	Message       string
	Progress      *ContentProgress
}

// Terminal reports whether the ack's status ends the exchange.
func (a Ack) Terminal() bool { return a.Status != nil && a.Status.Terminal() }
