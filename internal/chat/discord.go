package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DiscordMaxMessageLen is Discord's hard message-length limit. Chunks are
// produced under it (default 1900) to leave framing headroom.
const DiscordMaxMessageLen = 2000

// DiscordSink delivers messages through Discord webhooks, one webhook per
// channel name.
type DiscordSink struct {
	webhooks map[string]string
	client   *http.Client
}

// NewDiscordSink creates a sink over channel->webhook URL mappings.
func NewDiscordSink(webhooks map[string]string) *DiscordSink {
	return &DiscordSink{
		webhooks: webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *DiscordSink) Name() string { return "discord" }

// Send posts one message to the channel's webhook. Channels without a
// configured webhook are skipped silently: not every project routes to
// Discord.
func (s *DiscordSink) Send(ctx context.Context, channel, text string) error {
	url, ok := s.webhooks[channel]
	if !ok || url == "" {
		return nil
	}
	if len(text) > DiscordMaxMessageLen {
		text = text[:DiscordMaxMessageLen]
	}

	body, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("discord webhook returned %d", resp.StatusCode)
	}
	return nil
}
