package domain

import "time"

// Team roles as reported by the API.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Member is a user's membership entry inside a team.
type Member struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Team is a collaboration team.
type Team struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Owner       Member    `json:"owner"`
	Members     []Member  `json:"members,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// IsOwner reports whether userID owns the team.
func (t Team) IsOwner(userID string) bool {
	return userID != "" && t.Owner.ID == userID
}

// HasMember reports whether userID is listed among the team members.
func (t Team) HasMember(userID string) bool {
	for _, m := range t.Members {
		if m.ID == userID {
			return true
		}
	}
	return false
}
