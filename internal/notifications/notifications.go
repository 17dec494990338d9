package notifications

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultServer = "https://ntfy.sh"

var ErrNotConfigured = errors.New("notifications not configured")

// Ntfy publishes push notifications to an ntfy topic.
type Ntfy struct {
	server string
	topic  string
	client *http.Client
}

// New returns a notifier for topic. An empty topic yields a notifier whose
// Send always fails with ErrNotConfigured.
func New(topic string) *Ntfy {
	return NewWithServer(DefaultServer, topic)
}

func NewWithServer(server, topic string) *Ntfy {
	if topic == "" {
		log.Warn().Msg("Ntfy topic not configured - notifications disabled")
	} else {
		log.Info().
			Str("topic", topic).
			Msg("Ntfy notifications initialized")
	}

	return &Ntfy{
		server: server,
		topic:  topic,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send sends a notification to ntfy
func (n *Ntfy) Send(title, message string) error {
	if n == nil || n.topic == "" {
		return ErrNotConfigured
	}

	payload := map[string]interface{}{
		"topic":   n.topic,
		"title":   title,
		"message": message,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, n.server, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().
		Str("title", title).
		Int("status", resp.StatusCode).
		Msg("Notification sent successfully")

	return nil
}
