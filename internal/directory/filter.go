// Package directory holds pure helpers over directory snapshots.
package directory

import (
	"strings"

	"clave-backend/internal/storage"
)

// FilterUsers returns the users whose display name contains query,
// case-insensitively. It is a pure function over an already-fetched
// snapshot: the client fetches the directory once and filters locally
// instead of issuing a query per keystroke.
func FilterUsers(query string, users []storage.User) []storage.User {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return users
	}

	out := make([]storage.User, 0, len(users))
	for _, u := range users {
		if strings.Contains(strings.ToLower(u.DisplayName), query) {
			out = append(out, u)
		}
	}
	return out
}
