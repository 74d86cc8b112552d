package types

// MediaRef points from a message to a media resource.
type MediaRef struct {
	ResourceID string `json:"resource_id"`
	MimeType   string `json:"mime_type,omitempty"`
	Size       int64  `json:"size,omitempty"`
}

// Message is an indexed message of a conversation.
type Message struct {
	Index  MessageIndex `json:"index"`
	Author string       `json:"author,omitempty"`
	Body   string       `json:"body"`
	Media  []MediaRef   `json:"media,omitempty"`
}

// LocalHandle identifies fetched bytes owned by the media cache.
type LocalHandle struct {
	ResourceID string `json:"resource_id"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
}

// Conversation summarizes a locally indexed conversation.
type Conversation struct {
	ScopeID      int64   `json:"scope_id"`
	Title        string  `json:"title,omitempty"`
	CreatedAt    int64   `json:"created_at"`
	MessageCount int64   `json:"message_count"`
	HoleCount    int64   `json:"hole_count"`
	Degraded     bool    `json:"degraded"`
	LastError    *string `json:"last_error,omitempty"`
}

// ResourceRecord is the persisted status of a media resource.
type ResourceRecord struct {
	ResourceID string              `json:"resource_id"`
	Status     ResourceFetchStatus `json:"status"`
	LocalPath  *string             `json:"local_path,omitempty"`
	Size       int64               `json:"size,omitempty"`
	UpdatedAt  int64               `json:"updated_at"`
}
