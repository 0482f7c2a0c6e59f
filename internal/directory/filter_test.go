package directory

import (
	"testing"

	"clave-backend/internal/storage"

	"github.com/stretchr/testify/require"
)

func users(names ...string) []storage.User {
	out := make([]storage.User, len(names))
	for i, n := range names {
		out[i] = storage.User{ID: n, DisplayName: n}
	}
	return out
}

func TestFilterUsersCaseInsensitiveSubstring(t *testing.T) {
	t.Parallel()

	got := FilterUsers("an", users("Ana", "Bob"))
	require.Len(t, got, 1)
	require.Equal(t, "Ana", got[0].DisplayName)
}

func TestFilterUsersBlankQuery(t *testing.T) {
	t.Parallel()

	all := users("Ana", "Bob")
	require.Equal(t, all, FilterUsers("", all))
	require.Equal(t, all, FilterUsers("   ", all))
}

func TestFilterUsersNoMatch(t *testing.T) {
	t.Parallel()

	require.Empty(t, FilterUsers("zzz", users("Ana", "Bob")))
}

func TestFilterUsersMiddleOfName(t *testing.T) {
	t.Parallel()

	got := FilterUsers("OB", users("Ana", "Bob", "Robb"))
	require.Len(t, got, 2)
}
