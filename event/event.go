// Package event is the bus paused runs wake through. The default
// implementation is Watermill's in-process gochannel pub/sub; a NATS
// streaming bus is available for multi-process setups.
package event

import (
	"context"

	"github.com/awantoch/beemflow/pkg/errors"
)

// Bus publishes and subscribes JSON payloads by topic. Handlers run on the
// subscriber's goroutine; they must not block indefinitely.
type Bus interface {
	Publish(topic string, payload any) error
	Subscribe(ctx context.Context, topic string, handler func(payload any)) error
	Close() error
}

// Config selects a bus driver.
type Config struct {
	Driver    string `json:"driver,omitempty"`
	URL       string `json:"url,omitempty"`
	ClusterID string `json:"cluster_id,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
}

// NewBus builds a bus from config: memory (default) or nats.
func NewBus(cfg *Config) (Bus, error) {
	driver := ""
	if cfg != nil {
		driver = cfg.Driver
	}
	switch driver {
	case "", "memory":
		return NewInMemoryBus(), nil
	case "nats":
		if cfg.URL == "" {
			return nil, errors.Validation("nats event bus requires a url")
		}
		return NewNATSBus(cfg.ClusterID, cfg.ClientID, cfg.URL)
	default:
		return nil, errors.Validation("unknown event driver: %s", driver)
	}
}
