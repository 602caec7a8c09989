package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/VadimVDM/VisAPI-sub006/message"
)

// PublishStatus broadcasts a delivery status update to every subscriber on
// any instance sharing this Redis.
func (s *Store) PublishStatus(ctx context.Context, u message.StatusUpdate) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("visapi/redis: marshal status: %w", err)
	}
	if err := s.client.Publish(ctx, statusChannel, raw).Err(); err != nil {
		return fmt.Errorf("visapi/redis: publish status: %w", err)
	}
	return nil
}

// SubscribeStatus returns a channel of published status updates. The channel
// is closed when ctx is done. Malformed payloads are logged and dropped.
func (s *Store) SubscribeStatus(ctx context.Context) <-chan message.StatusUpdate {
	sub := s.client.Subscribe(ctx, statusChannel)
	out := make(chan message.StatusUpdate, 16)

	go func() {
		defer close(out)
		defer sub.Close() //nolint:errcheck // best-effort on shutdown

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				var u message.StatusUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
					s.logger.Warn("dropping malformed status update", "error", err)
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
