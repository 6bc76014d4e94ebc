package domain

// InboundEvent is the shaped form of one validated webhook update: the tagged
// variant the ingress validator routes on.
type InboundEvent struct {
	Kind         EventKind
	UserID       string
	ChatID       string
	MessageID    int
	SenderID     string
	IsBot        bool
	Text         string
	Caption      string
	MediaGroupID string
	File         *FileInfo

	// Callback fields, set only for KindCallback.
	CallbackID   string
	CallbackData string
}

// DisplayText returns the text to record in the conversation log: the caption
// for captioned media, the message text otherwise.
func (e InboundEvent) DisplayText() string {
	if e.Caption != "" {
		return e.Caption
	}
	return e.Text
}

// DeliveryResult is the platform's confirmation of one delivered outbound
// message, recorded in the outbound conversation entry.
type DeliveryResult struct {
	PlatformMessageID int
	SenderID          string
	IsBot             bool
}
