package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/cell-balancer/internal/config"
)

const queueSize = 16

// Notifier raises an operator alert. Alert never blocks the caller.
type Notifier interface {
	Alert(title, message string)
}

type message struct {
	Topic   string `json:"topic"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Ntfy posts alerts to an ntfy server from a background worker. Alerts raised
// while the queue is full are dropped.
type Ntfy struct {
	client *http.Client
	url    string
	topic  string

	queue chan message
	wg    sync.WaitGroup
	once  sync.Once
}

// NewNtfy returns nil when no topic is configured.
func NewNtfy(cfg config.Notify) *Ntfy {
	if cfg.NtfyTopic == "" {
		log.Warn().Msg("Ntfy topic not configured - notifications disabled")
		return nil
	}

	n := &Ntfy{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    strings.TrimRight(cfg.NtfyURL, "/"),
		topic:  cfg.NtfyTopic,
		queue:  make(chan message, queueSize),
	}
	n.wg.Add(1)
	go n.run()

	log.Info().
		Str("topic", n.topic).
		Msg("Ntfy notifications initialized")
	return n
}

func (n *Ntfy) Alert(title, text string) {
	select {
	case n.queue <- message{Topic: n.topic, Title: title, Message: text}:
	default:
		log.Warn().Str("title", title).Msg("Notification queue full, alert dropped")
	}
}

func (n *Ntfy) run() {
	defer n.wg.Done()
	for m := range n.queue {
		if err := n.send(m); err != nil {
			log.Error().Err(err).Str("title", m.Title).Msg("Failed to send notification")
		}
	}
}

func (n *Ntfy) send(m message) error {
	jsonData, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, n.url, bytes.NewBuffer(jsonData))
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
		Str("title", m.Title).
		Int("status", resp.StatusCode).
		Msg("Notification sent successfully")
	return nil
}

// Close delivers what is queued and stops the worker.
func (n *Ntfy) Close() {
	n.once.Do(func() { close(n.queue) })
	n.wg.Wait()
}
