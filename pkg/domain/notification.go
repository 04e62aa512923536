package domain

import "time"

// Notification types raised locally or by the API.
const (
	NotificationTeamRemoval = "team_removal"
	NotificationTeamInvite  = "team_invite"
)

// Severity levels for notifications and notices.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Notification represents a single notification for the current user.
type Notification struct {
	ID        string    `json:"_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	TeamID    string    `json:"teamId,omitempty"`
	TeamName  string    `json:"teamName,omitempty"`
	Severity  string    `json:"severity,omitempty"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// Pagination describes a page of a listing endpoint.
type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// NotificationPage is one page of the user's notifications.
type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unreadCount"`
	Pagination    Pagination     `json:"pagination"`
}
