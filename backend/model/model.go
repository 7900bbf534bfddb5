package model

import (
	"encoding/json"
	"time"
)

// Inbound event types that are sent by clients.
const (
	EventJoinRoom              = "join_room"
	EventSendMessage           = "send_message"
	EventSendPrivateMessage    = "send_private_message"
	EventRequestPrivateHistory = "request_private_history"
	EventTyping                = "typing"
)

// Announcement types that are sent by server.
const (
	AnnouncementRoomUsers             = "room_users"
	AnnouncementMessageHistory        = "message_history"
	AnnouncementReceiveMessage        = "receive_message"
	AnnouncementTypingUsers           = "typing_users"
	AnnouncementReceivePrivateMessage = "receive_private_message"
	AnnouncementPrivateMessageError   = "private_message_error"
	AnnouncementPrivateMessageHistory = "private_message_history"
	AnnouncementError                 = "error"
)

type Member struct {
	Username     string `json:"username"`
	ConnectionID string `json:"connection_id"`
}

// Message is a public room message. It is never mutated after creation.
type Message struct {
	ID       int64     `json:"id"`
	Text     string    `json:"text"`
	Username string    `json:"username"`
	Room     string    `json:"room"`
	Time     time.Time `json:"time"`
	SeenBy   []string  `json:"seen_by"`
}

// PrivateMessage is a direct message between two users.
type PrivateMessage struct {
	ID   int64     `json:"id"`
	Text string    `json:"text"`
	From string    `json:"from"`
	To   string    `json:"to"`
	Time time.Time `json:"time"`
}

type PrivateHistory struct {
	OtherUsername string           `json:"otherUsername"`
	History       []PrivateMessage `json:"history"`
}

// Event is an inbound frame. Data is decoded lazily depending on Type.
type Event struct {
	Type string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

type JoinRoomData struct {
	Room     string `json:"room" validate:"required"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password"`
}

type SendMessageData struct {
	Room string `json:"room" validate:"required"`
	Text string `json:"text" validate:"required"`
}

type SendPrivateMessageData struct {
	ToUsername string `json:"toUsername" validate:"required"`
	Text       string `json:"text" validate:"required"`
}

type PrivateHistoryData struct {
	OtherUsername string `json:"otherUsername" validate:"required"`
}

type TypingData struct {
	Room string `json:"room" validate:"required"`
}

// Announcement is an outbound frame.
type Announcement struct {
	Type    string `json:"event"`
	Payload any    `json:"data"`
}

// Wire is the outbound side of a live connection.
type Wire struct {
	TX chan Announcement
}

func NewWire(size int) Wire {
	return Wire{
		TX: make(chan Announcement, size),
	}
}
