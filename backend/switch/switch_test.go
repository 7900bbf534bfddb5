package _switch

import (
	"testing"

	"github.com/adwski/chatroom-server/backend/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwitch_SendAndBroadcast(t *testing.T) {
	logger := zerolog.Nop()
	sw := NewSwitch(&logger)

	w1, w2 := model.NewWire(4), model.NewWire(4)
	sw.Connect("c1", w1)
	sw.Connect("c2", w2)
	require.True(t, sw.Online("c1"))

	ann := model.Announcement{Type: model.AnnouncementTypingUsers, Payload: []string{"alice"}}
	require.True(t, sw.Send("c1", ann))
	assert.Equal(t, ann, <-w1.TX)

	n := sw.Broadcast([]string{"c1", "c2", "gone"}, ann)
	assert.Equal(t, 2, n)
	assert.Len(t, w1.TX, 1)
	assert.Len(t, w2.TX, 1)
}

func TestSwitch_OfflineAndDisconnect(t *testing.T) {
	logger := zerolog.Nop()
	sw := NewSwitch(&logger)

	assert.False(t, sw.Send("nobody", model.Announcement{Type: model.AnnouncementError}))

	sw.Connect("c1", model.NewWire(1))
	sw.Disconnect("c1")
	sw.Disconnect("c1")
	assert.False(t, sw.Online("c1"))
	assert.False(t, sw.Send("c1", model.Announcement{Type: model.AnnouncementError}))
}

func TestSwitch_FullBufferDrops(t *testing.T) {
	logger := zerolog.Nop()
	sw := NewSwitch(&logger)

	wire := model.NewWire(1)
	sw.Connect("c1", wire)

	require.True(t, sw.Send("c1", model.Announcement{Type: "first"}))
	assert.False(t, sw.Send("c1", model.Announcement{Type: "second"}))
	assert.Equal(t, "first", (<-wire.TX).Type)
}
