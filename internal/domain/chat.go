package domain

import "time"

type ChatMessage struct {
	ID     string    `json:"id"`
	Text   string    `json:"text"`
	Sender PeerID    `json:"sender"`
	At     time.Time `json:"at"`
}
