package _switch

import (
	"sync"

	"github.com/adwski/chatroom-server/backend/model"
	"github.com/rs/zerolog"
)

// Switch delivers announcements to live connections by connection id.
// Ids that are not connected are treated as offline.
type Switch struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	fwd    map[string]model.Wire
}

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "switch").Logger(),
		mx:     &sync.RWMutex{},
		fwd:    make(map[string]model.Wire),
	}
}

func (sw *Switch) Connect(connID string, wire model.Wire) {
	sw.mx.Lock()
	sw.fwd[connID] = wire
	sw.mx.Unlock()

	sw.logger.Debug().Str("connID", connID).Msg("endpoint connected")
}

func (sw *Switch) Disconnect(connID string) {
	sw.mx.Lock()
	_, ok := sw.fwd[connID]
	delete(sw.fwd, connID)
	sw.mx.Unlock()

	if ok {
		sw.logger.Debug().Str("connID", connID).Msg("endpoint disconnected")
	}
}

func (sw *Switch) Online(connID string) bool {
	sw.mx.RLock()
	defer sw.mx.RUnlock()
	_, ok := sw.fwd[connID]
	return ok
}

// Send delivers ann to a single connection. It never blocks: if the
// connection's outbound buffer is full the announcement is dropped.
func (sw *Switch) Send(connID string, ann model.Announcement) bool {
	sw.mx.RLock()
	wire, ok := sw.fwd[connID]
	sw.mx.RUnlock()

	if !ok {
		sw.logger.Debug().
			Str("dst", connID).
			Str("type", ann.Type).
			Msg("cannot forward, dst not found")
		return false
	}
	return send(ann, connID, wire.TX, &sw.logger)
}

// Broadcast delivers ann to every connection in dst and returns
// the number of connections that received it.
func (sw *Switch) Broadcast(dst []string, ann model.Announcement) int {
	var sent int
	for _, connID := range dst {
		if sw.Send(connID, ann) {
			sent++
		}
	}
	if sent == 0 && len(dst) > 0 {
		sw.logger.Debug().
			Str("type", ann.Type).
			Msg("broadcast did not reach anyone")
	}
	return sent
}

func send(ann model.Announcement, dst string, tx chan<- model.Announcement, logger *zerolog.Logger) bool {
	select {
	case tx <- ann:
		logger.Trace().Str("dst", dst).Str("type", ann.Type).Msg("announce is forwarded")
		return true
	default:
		logger.Warn().Str("dst", dst).Str("type", ann.Type).Msg("slow endpoint, announce dropped")
		return false
	}
}
