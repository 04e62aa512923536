package domain

import (
	"strings"
	"unicode/utf8"
)

// User is the authenticated member profile returned by the auth endpoints.
type User struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// Initial returns the uppercase first letter of the user's name, or "U".
func (u User) Initial() string {
	r, size := utf8.DecodeRuneInString(u.Name)
	if size == 0 {
		return "U"
	}
	return strings.ToUpper(string(r))
}
