package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	id := NewID("vis")
	require.True(t, strings.HasPrefix(id, "vis_"))
	require.Len(t, id, len("vis_")+32)
	require.NotEqual(t, id, NewID("vis"))
	require.Len(t, NewID(""), 32)
}

func TestHasPrefix(t *testing.T) {
	id := NewID("vis")
	require.True(t, HasPrefix(id, "vis"))
	require.False(t, HasPrefix(id, "req"))
	require.False(t, HasPrefix("vis_short", "vis"))
	require.False(t, HasPrefix("vis_"+strings.Repeat("z", 32), "vis"))
}
