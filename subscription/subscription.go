package subscription

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"kanban-tracker/storage"
)

const reconnectDelay = time.Second

// Reloader refreshes local state from the store.
type Reloader interface {
	Load(ctx context.Context) error
}

// SubscribeUpdates listens for store changes published by other instances
// and reloads the board for each of them. Changes tagged with origin are
// ignored. It returns when ctx is done.
func SubscribeUpdates(
	ctx context.Context,
	logger *log.Logger,
	rc *redis.Client,
	channel string,
	origin string,
	reloader Reloader,
) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	receive:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break receive
				}
				var change storage.Change
				if err := sonic.UnmarshalString(msg.Payload, &change); err != nil {
					logger.WithError(err).Error("unable to parse board update")
					continue
				}
				if change.Origin == origin {
					continue
				}
				if err := reloader.Load(ctx); err != nil {
					logger.WithError(err).WithFields(log.Fields{
						"origin": change.Origin,
						"op":     change.Op,
					}).Error("reload board after remote change")
					continue
				}
				logger.WithFields(log.Fields{
					"origin":  change.Origin,
					"op":      change.Op,
					"task_id": change.ID,
				}).Debug("board reloaded after remote change")
			}
		}
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}
