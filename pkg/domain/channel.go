package domain

import "time"

// Channel is a conversation space inside a team.
type Channel struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	TeamID      string    `json:"team"`
	IsPrivate   bool      `json:"isPrivate"`
	Members     []Member  `json:"members,omitempty"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
