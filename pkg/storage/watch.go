package storage

import (
	"context"
	"strings"

	"github.com/skylinedb/flightdeck/pkg/events"
)

// watchHub fans out WatchEvents to per-call subscribers filtered by
// keyspace and key prefix. Backend-agnostic: both BoltStore and MemStore
// embed one and call publish after every committed write.
type watchHub struct {
	broker *events.Broker[WatchEvent]
}

func newWatchHub() *watchHub {
	h := &watchHub{broker: events.NewBroker[WatchEvent]()}
	h.broker.Start()
	return h
}

func (h *watchHub) publish(ev WatchEvent) {
	h.broker.Publish(ev)
}

func (h *watchHub) watch(ctx context.Context, ks Keyspace, prefix string) (<-chan WatchEvent, error) {
	sub := h.broker.Subscribe()
	out := make(chan WatchEvent, 16)

	go func() {
		defer h.broker.Unsubscribe(sub)
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if ev.Keyspace != ks || !strings.HasPrefix(ev.Key, prefix) {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
