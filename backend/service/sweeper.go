package service

import (
	"context"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
)

// Sweep deletes rooms that have no members, together with their password,
// history and typing state. Private conversations are not touched.
// The membership check and the deletion happen under the coordinator lock,
// so a concurrent join either lands before the sweep or recreates the room after it.
func (svc *Service) Sweep() []string {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	swept := svc.rooms.SweepEmpty()
	for _, room := range swept {
		svc.presence.ClearRoom(room)
	}
	if len(swept) > 0 {
		svc.logger.Debug().Int("rooms", len(swept)).Msg("empty rooms swept")
		svc.logger.Trace().Func(func(e *zerolog.Event) {
			e.Str("swept", spew.Sdump(swept))
		}).Msg("sweep details")
	}
	return swept
}

// RunSweeper calls Sweep every interval until ctx is done.
func (svc *Service) RunSweeper(ctx context.Context, wg *sync.WaitGroup, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		svc.logger.Debug().Msg("sweeper stopped")
		wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.Sweep()
		}
	}
}
