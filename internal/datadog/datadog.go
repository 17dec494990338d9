package datadog

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Enabled   bool
	AgentAddr string
	Namespace string
	Tags      []string
}

// Client emits DogStatsD gauges. A nil *Client drops everything, so callers
// never need to check whether metrics are enabled.
type Client struct {
	statsd *statsd.Client
}

// New returns nil when metrics are disabled or the client cannot be created.
func New(cfg Config) *Client {
	if !cfg.Enabled {
		log.Info().Msg("Datadog metrics disabled")
		return nil
	}

	dogstatsd, err := statsd.New(cfg.AgentAddr)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return nil
	}

	dogstatsd.Namespace = cfg.Namespace
	dogstatsd.Tags = cfg.Tags

	log.Info().
		Str("addr", cfg.AgentAddr).
		Str("namespace", cfg.Namespace).
		Strs("tags", cfg.Tags).
		Msg("Datadog metrics initialized")

	return &Client{statsd: dogstatsd}
}

func (c *Client) Gauge(name string, value float64, tags ...string) {
	if c == nil {
		return
	}
	if err := c.statsd.Gauge(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
	}
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.statsd.Close()
}
