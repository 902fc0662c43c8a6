package entity

// InboundEvent is the channel-agnostic shape both transports produce. The
// webhook adapter and the session adapter each translate their own payloads
// into this one struct, so the whole pipeline downstream is written once.
type InboundEvent struct {
	MessageID  string // channel-provided id, dedup key
	From       string // customer address (phone/JID digits)
	SenderName string // best-effort display name
	Kind       string // KindText | KindAudio | KindImage | KindLocation | KindDocument
	Text       string // text body, or media caption
	MediaURL   string // resolved image/document URL
	Audio      []byte // voice note payload
	Latitude   float64
	Longitude  float64
	HasCoords  bool
	Filename   string // document filename
}
