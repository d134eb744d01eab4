// Package realtime bridges engagement mutations to live subscribers over
// redis pub/sub. Publishers announce that a prompt's like or comment rows
// changed; subscribers respond by re-deriving authoritative counts, so a
// notification never carries values of its own.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"promptdeck/api/internal/store"
)

const channelPrefix = "engagement:"

// Event is the pub/sub payload. It names the prompt and nothing else;
// subscribers always re-derive counts instead of trusting the wire.
type Event struct {
	PromptID string `json:"prompt_id"`
}

func channelFor(promptID string) string {
	return channelPrefix + promptID
}

// Publisher announces engagement changes. Satisfies social.Publisher.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) PublishEngagementChange(ctx context.Context, promptID string) error {
	payload, err := json.Marshal(Event{PromptID: promptID})
	if err != nil {
		return fmt.Errorf("marshal engagement event: %w", err)
	}
	if err := p.client.Publish(ctx, channelFor(promptID), payload).Err(); err != nil {
		return fmt.Errorf("publish engagement event: %w", err)
	}
	return nil
}

// Deriver recomputes authoritative counts. Implemented by social.Service.
type Deriver interface {
	DeriveCounts(ctx context.Context, promptID string) (store.EngagementCounts, error)
}

type Bridge struct {
	client  *redis.Client
	deriver Deriver
}

func NewBridge(client *redis.Client, deriver Deriver) *Bridge {
	return &Bridge{client: client, deriver: deriver}
}

// Subscribe watches the prompt's engagement channel and invokes onChange
// with freshly derived counts for every notification. Notifications that
// land while a derivation is in flight coalesce into a single re-derivation.
// The returned stop function is idempotent; calling it more than once is
// safe and releases the underlying pub/sub subscription exactly once.
func (b *Bridge) Subscribe(ctx context.Context, promptID string, onChange func(store.EngagementCounts)) (func(), error) {
	pubsub := b.client.Subscribe(ctx, channelFor(promptID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe engagement channel: %w", err)
	}

	messages := pubsub.Channel()
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				stop()
				return
			case <-done:
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				// Collapse a burst into one derivation.
			drain:
				for {
					select {
					case _, more := <-messages:
						if !more {
							break drain
						}
					default:
						break drain
					}
				}
				counts, err := b.deriver.DeriveCounts(ctx, promptID)
				if err != nil {
					log.Printf("derive counts for prompt %s failed: %v", promptID, err)
					continue
				}
				onChange(counts)
			}
		}
	}()

	return stop, nil
}
