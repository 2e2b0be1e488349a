package models

// Messages exchanged on the location acquisition websocket. The page sends
// "start", "position", "position_error" and "cancel"; the server drives the
// page's watchPosition with "watch" and "clear_watch" and reports with
// "progress", "accepted" and "failed".
const (
	MsgStart         = "start"
	MsgWatch         = "watch"
	MsgClearWatch    = "clear_watch"
	MsgPosition      = "position"
	MsgPositionError = "position_error"
	MsgCancel        = "cancel"
	MsgProgress      = "progress"
	MsgAccepted      = "accepted"
	MsgFailed        = "failed"
)

// ClientMessage is sent by the page running the browser geolocation API
type ClientMessage struct {
	Type      string   `json:"type"`
	// RunID echoes the runId of the "watch" a reading answers. Readings for
	// any other run are dropped.
	RunID     uint64   `json:"runId,omitempty"`
	Profile   string   `json:"profile,omitempty"`
	Latitude  float64  `json:"latitude,omitempty"`
	Longitude float64  `json:"longitude,omitempty"`
	Accuracy  float64  `json:"accuracy,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"` // epoch millis
	Code      string   `json:"code,omitempty"`
	Message   string   `json:"message,omitempty"`
	Options   *Options `json:"options,omitempty"`
}

// Options tells the page how to call watchPosition
type Options struct {
	EnableHighAccuracy bool  `json:"enableHighAccuracy"`
	TimeoutMs          int64 `json:"timeout"`
	MaximumAgeMs       int64 `json:"maximumAge"`
}

// ServerMessage is sent back to the page
type ServerMessage struct {
	Type         string   `json:"type"`
	RunID        uint64   `json:"runId,omitempty"`
	Status       string   `json:"status,omitempty"`
	SamplesSeen  int      `json:"samplesSeen,omitempty"`
	BestAccuracy *float64 `json:"bestAccuracy,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Accuracy     *float64 `json:"accuracy,omitempty"`
	Label        string   `json:"label,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	Message      string   `json:"message,omitempty"`
	Options      *Options `json:"options,omitempty"`
}
