package models

import "github.com/google/uuid"

// Song is an immutable catalog entry. Year is the original release year.
type Song struct {
	ID     uuid.UUID `json:"id"`
	Title  string    `json:"title"`
	Artist string    `json:"artist"`
	Album  string    `json:"album,omitempty"`
	Year   int       `json:"year"`
	Link   string    `json:"link,omitempty"`
}
