package domain

type TrackKind string

const (
	TrackLocal  TrackKind = "local"
	TrackShared TrackKind = "shared"
	TrackEmbed  TrackKind = "embed"
)

// Track is a playable entry of the shared track list.
type Track struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	URL     string    `json:"url"`
	Kind    TrackKind `json:"kind"`
	MIME    string    `json:"mime,omitempty"`
	EmbedID string    `json:"embed_id,omitempty"`
	// Duration in seconds, zero when unknown.
	Duration float64 `json:"duration,omitempty"`
}
