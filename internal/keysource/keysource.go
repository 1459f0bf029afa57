// Package keysource delivers live control-word updates over a Redis
// subscription. Messages on the configured channel carry "even" or
// "even:odd" hex words; each one is handed to the gateway as an explicit key
// installation, exactly as if the operator had typed it.
package keysource

import (
	"context"
	"fmt"
	"log"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

// Apply installs a key pair. The odd word may be empty.
type Apply func(evenCW, oddCW string)

// Subscriber listens for key updates.
type Subscriber struct {
	client  *redis.Client
	channel string
	apply   Apply
}

// New connects a subscriber. addr is a host:port; channel is the pub/sub
// channel carrying the words.
func New(addr, channel string, apply Apply) *Subscriber {
	return &Subscriber{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
		apply:   apply,
	}
}

// Run blocks until ctx is cancelled, applying every well-formed message.
// Malformed messages are logged and skipped; subscription errors end the run.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()
	// Fail fast on unreachable servers instead of on the first message.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("keysource: subscribe %q: %w", s.channel, err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("keysource: subscription to %q closed", s.channel)
			}
			even, odd, err := parseMessage(msg.Payload)
			if err != nil {
				log.Printf("keysource: channel=%s skipping message: %v", s.channel, err)
				continue
			}
			s.apply(even, odd)
		}
	}
}

// Close releases the Redis connection.
func (s *Subscriber) Close() error {
	return s.client.Close()
}

// parseMessage splits an "even[:odd]" payload. Validation of the hex words
// themselves is the key register's job.
func parseMessage(payload string) (even, odd string, err error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", "", fmt.Errorf("empty payload")
	}
	parts := strings.SplitN(payload, ":", 2)
	even = strings.TrimSpace(parts[0])
	if even == "" {
		return "", "", fmt.Errorf("empty even word in %q", payload)
	}
	if len(parts) == 2 {
		odd = strings.TrimSpace(parts[1])
	}
	return even, odd, nil
}
