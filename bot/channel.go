package bot

// Channel is the outbound port every transport adapter implements. The
// aggregator, dispatcher and follow-up worker only ever talk to this
// interface; the cloud-API adapter and the socket session are peers behind
// it.
type Channel interface {
	// MarkRead acknowledges an inbound message on the channel.
	MarkRead(messageID string) error
	// SendText delivers one text message to the customer.
	SendText(to, text string) error
	// SendImage delivers one image by URL.
	SendImage(to, url string) error
	// SetTyping toggles the typing indicator where the transport supports
	// it; adapters without presence return nil.
	SetTyping(to string, typing bool) error
}
