package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/adwski/chatroom-server/backend/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(limit int) *MemStore {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return NewMemStore(StoreConfig{
		HistoryLimit: limit,
		Now:          func() time.Time { return now },
	})
}

func usernames(members []model.Member) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.Username)
	}
	return out
}

func TestMemStore_JoinCreatesRoom(t *testing.T) {
	ms := newTestStore(0)

	members, history, err := ms.Join("lobby", "alice", "", "c1")
	require.NoError(t, err)
	assert.Equal(t, []model.Member{{Username: "alice", ConnectionID: "c1"}}, members)
	assert.Empty(t, history)
	assert.True(t, ms.hasRoom("lobby"))
}

func TestMemStore_RejoinReplacesEntry(t *testing.T) {
	ms := newTestStore(0)

	_, _, err := ms.Join("lobby", "alice", "", "c1")
	require.NoError(t, err)
	_, _, err = ms.Join("lobby", "bob", "", "c2")
	require.NoError(t, err)

	members, _, err := ms.Join("lobby", "alice", "", "c3")
	require.NoError(t, err)

	require.Len(t, members, 2)
	assert.ElementsMatch(t, []model.Member{
		{Username: "bob", ConnectionID: "c2"},
		{Username: "alice", ConnectionID: "c3"},
	}, members)

	// joining twice on the same connection does not duplicate either
	members, _, err = ms.Join("lobby", "alice", "", "c3")
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestMemStore_RoomNamesAreCaseSensitive(t *testing.T) {
	ms := newTestStore(0)
	_, _, err := ms.Join("Lobby", "alice", "secret", "c1")
	require.NoError(t, err)

	members, _, err := ms.Join("lobby", "bob", "", "c2")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, usernames(members))
}

func TestMemStore_Password(t *testing.T) {
	ms := newTestStore(0)

	_, _, err := ms.Join("vault", "alice", "secret", "c1")
	require.NoError(t, err)

	_, _, err = ms.Join("vault", "bob", "wrong", "c2")
	require.ErrorIs(t, err, ErrIncorrectPassword)
	_, _, err = ms.Join("vault", "bob", "", "c2")
	require.ErrorIs(t, err, ErrIncorrectPassword)

	// rejected joins do not mutate membership
	assert.Equal(t, []string{"alice"}, usernames(ms.members("vault")))

	members, _, err := ms.Join("vault", "bob", "secret", "c2")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, usernames(members))
}

func TestMemStore_OpenRoomIgnoresPassword(t *testing.T) {
	ms := newTestStore(0)
	_, _, err := ms.Join("open", "alice", "", "c1")
	require.NoError(t, err)

	// a later joiner cannot lock an existing room
	_, _, err = ms.Join("open", "bob", "mine", "c2")
	require.NoError(t, err)
	_, _, err = ms.Join("open", "carol", "", "c3")
	require.NoError(t, err)
}

func TestMemStore_PostMessage(t *testing.T) {
	ms := newTestStore(0)
	_, _, err := ms.Join("lobby", "alice", "", "c1")
	require.NoError(t, err)

	msg, err := ms.PostMessage("lobby", "alice", "  <hi>  ")
	require.NoError(t, err)
	assert.Equal(t, "&lt;hi&gt;", msg.Text)
	assert.Equal(t, "alice", msg.Username)
	assert.Equal(t, "lobby", msg.Room)
	assert.Equal(t, []string{"alice"}, msg.SeenBy)
	assert.NotZero(t, msg.ID)

	second, err := ms.PostMessage("lobby", "alice", "again")
	require.NoError(t, err)
	assert.Greater(t, second.ID, msg.ID)

	assert.Equal(t, []model.Message{msg, second}, ms.history("lobby"))

	_, history, err := ms.Join("lobby", "bob", "", "c2")
	require.NoError(t, err)
	assert.Equal(t, []model.Message{msg, second}, history)
}

func TestMemStore_PostEmptyMessage(t *testing.T) {
	ms := newTestStore(0)
	_, _, err := ms.Join("lobby", "alice", "", "c1")
	require.NoError(t, err)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err = ms.PostMessage("lobby", "alice", text)
		require.ErrorIs(t, err, ErrEmptyMessage)
	}
	assert.Empty(t, ms.history("lobby"))
}

func TestMemStore_HistoryLimit(t *testing.T) {
	ms := newTestStore(3)
	for i := 0; i < 5; i++ {
		_, err := ms.PostMessage("lobby", "alice", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}
	history := ms.history("lobby")
	require.Len(t, history, 3)
	assert.Equal(t, "m2", history[0].Text)
	assert.Equal(t, "m4", history[2].Text)
}

func TestMemStore_Leave(t *testing.T) {
	ms := newTestStore(0)
	_, _, _ = ms.Join("x", "bob", "", "c1")
	_, _, _ = ms.Join("y", "bob", "", "c1")
	_, _, _ = ms.Join("y", "alice", "", "c2")
	_, _, _ = ms.Join("z", "alice", "", "c2")

	affected := ms.Leave("c1")
	require.Len(t, affected, 2)
	assert.Empty(t, affected["x"])
	assert.Equal(t, []string{"alice"}, usernames(affected["y"]))

	// idempotent
	assert.Empty(t, ms.Leave("c1"))
	assert.Equal(t, []string{"alice"}, usernames(ms.members("z")))
}

func TestMemStore_Connections(t *testing.T) {
	ms := newTestStore(0)
	_, _, _ = ms.Join("lobby", "alice", "", "c1")
	_, _, _ = ms.Join("lobby", "alias", "", "c1")
	_, _, _ = ms.Join("lobby", "bob", "", "c2")

	assert.ElementsMatch(t, []string{"c1", "c2"}, ms.Connections("lobby"))
	assert.Nil(t, ms.Connections("nowhere"))
}

func TestMemStore_SweepEmpty(t *testing.T) {
	ms := newTestStore(0)
	_, _, _ = ms.Join("abandoned", "alice", "secret", "c1")
	_, err := ms.PostMessage("abandoned", "alice", "hello")
	require.NoError(t, err)
	_, _, _ = ms.Join("busy", "bob", "", "c2")
	_, err = ms.PostMessage("busy", "bob", "still here")
	require.NoError(t, err)

	ms.Leave("c1")
	swept := ms.SweepEmpty()
	assert.Equal(t, []string{"abandoned"}, swept)

	assert.False(t, ms.hasRoom("abandoned"))
	assert.Empty(t, ms.history("abandoned"))
	assert.Len(t, ms.history("busy"), 1)

	// password is gone with the room
	members, history, err := ms.Join("abandoned", "carol", "", "c3")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, usernames(members))
	assert.Empty(t, history)
}
