package domain

import "time"

// Message is bound for a queue topic. Seq and DispatchedAt are only
// meaningful once the message is staged in the outbox.
type Message struct {
	Seq          int64
	MessageID    string
	Topic        string
	Key          string
	Type         string
	Payload      []byte
	CreatedAt    time.Time
	DispatchedAt *time.Time
}

// PoisonEntry is a quarantined message kept for operators.
type PoisonEntry struct {
	At      time.Time `json:"At"`
	Topic   string    `json:"Topic"`
	Handler string    `json:"Handler,omitempty"`
	Reason  string    `json:"Reason"`
	Payload string    `json:"Payload"`
}
