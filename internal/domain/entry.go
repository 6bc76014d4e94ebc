package domain

// Direction tells whether an entry records a user event or a bot reply.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// FileInfo describes one Telegram attachment as extracted from an update.
type FileInfo struct {
	Type         string `json:"type"`
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileSize     int64  `json:"file_size,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	FileName     string `json:"file_name,omitempty"`
}

// ConversationEntry is one inbound or outbound event in the conversation log.
// (UserID, Timestamp) uniquely identifies an entry; Timestamp is assigned at
// write time and is strictly increasing per user, so per-user history is
// reconstructed from it rather than from queue delivery order.
type ConversationEntry struct {
	UserID            string
	Timestamp         string
	ChatID            string
	Direction         Direction
	Status            Status
	Message           string
	PlatformMessageID int
	SenderID          string
	IsBot             bool
	MediaGroupID      string
	BlobKey           string
	FileInfo          *FileInfo
	TTL               int64
}

// EntryID returns the stable identifier of an entry, used as the
// origin_event_id of envelopes spawned from it.
func (e ConversationEntry) EntryID() string {
	return e.UserID + "/" + e.Timestamp
}
