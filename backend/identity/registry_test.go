package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BindResolve(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Resolve("alice")
	require.False(t, ok)

	r.Bind("alice", "c1")
	connID, ok := r.Resolve("alice")
	require.True(t, ok)
	assert.Equal(t, "c1", connID)
}

func TestRegistry_RebindReplaces(t *testing.T) {
	r := NewRegistry()
	r.Bind("bob", "c1")
	r.Bind("bob", "c2")

	connID, ok := r.Resolve("bob")
	require.True(t, ok)
	assert.Equal(t, "c2", connID)
	assert.Equal(t, 1, r.size())
}

func TestRegistry_UnbindByConnection(t *testing.T) {
	r := NewRegistry()
	r.Bind("alice", "c1")
	r.Bind("bob", "c2")

	username, ok := r.UnbindByConnection("c2")
	require.True(t, ok)
	assert.Equal(t, "bob", username)

	_, ok = r.Resolve("bob")
	assert.False(t, ok)
	_, ok = r.Resolve("alice")
	assert.True(t, ok)

	// second unbind is a no-op
	_, ok = r.UnbindByConnection("c2")
	assert.False(t, ok)
}

func TestRegistry_UnbindStaleConnectionKeepsNewerBinding(t *testing.T) {
	r := NewRegistry()
	r.Bind("bob", "old")
	r.Bind("bob", "new")

	_, ok := r.UnbindByConnection("old")
	require.False(t, ok)

	connID, ok := r.Resolve("bob")
	require.True(t, ok)
	assert.Equal(t, "new", connID)
}
