package domain

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageSystem MessageType = "system"
)

type MessageStatus string

const (
	StatusPending      MessageStatus = "pending"
	StatusAcknowledged MessageStatus = "acknowledged"
	StatusFailed       MessageStatus = "failed"
)

// User is the logged-in device owner. Password holds a plaintext only for
// the instant between user input and hashing; it is never persisted and
// never serialized. PrivateKey never leaves the device.
type User struct {
	UID          string `json:"uid"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	Password     string `json:"password,omitempty"`
	ProfilePicTn string `json:"profilePicTn,omitempty"`
	AccessToken  string `json:"-"`
	PrivateKey   string `json:"-"`
}

// Contact is the device-local projection of another user's public fields.
type Contact struct {
	UID       string `json:"uid"`
	PublicKey string `json:"publicKey"`
}

// Chat pairs the device owner with one counterpart. Display fields are
// denormalized so list views render offline.
type Chat struct {
	UID          string `json:"uid"`
	ContactUID   string `json:"contactUid"`
	Username     string `json:"username"`
	ProfilePicTn string `json:"profilePicTn,omitempty"`
	PublicKey    string `json:"publicKey"`
	LastMessage  string `json:"lastMessage,omitempty"`
	LastActive   string `json:"lastActive,omitempty"`
}

// Message is a single chat message. MID is server-issued; before the server
// acknowledges an outgoing message it holds a local placeholder id and the
// row is in StatusPending. Timestamp is the sole per-chat ordering key.
type Message struct {
	MID       string        `json:"mid"`
	ChatUID   string        `json:"-"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Type      MessageType   `json:"type"`
	Timestamp string        `json:"timestamp"`
	Content   string        `json:"content"`
	Status    MessageStatus `json:"-"`
}
