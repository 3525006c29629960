package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/termrelay/termrelay/internal/config"
)

// WebPushSink delivers messages as browser push notifications, for users
// who want lifecycle pings without a chat platform in the loop.
type WebPushSink struct {
	sub     *webpush.Subscription
	subject string
	public  string
	private string
}

// NewWebPushSink builds a sink from config. Returns nil when web push is
// disabled or incompletely configured.
func NewWebPushSink(cfg config.WebPushSettings) (*WebPushSink, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Subscription == "" || cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil, fmt.Errorf("webpush enabled but subscription or VAPID keys missing")
	}

	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(cfg.Subscription), &sub); err != nil {
		return nil, fmt.Errorf("invalid webpush subscription: %w", err)
	}

	subject := cfg.Subject
	if subject == "" {
		subject = "mailto:termrelay@localhost"
	}
	return &WebPushSink{
		sub:     &sub,
		subject: subject,
		public:  cfg.VAPIDPublicKey,
		private: cfg.VAPIDPrivateKey,
	}, nil
}

func (s *WebPushSink) Name() string { return "webpush" }

// Send pushes one notification. The payload carries the channel so the
// service worker can group by agent.
func (s *WebPushSink) Send(ctx context.Context, channel, text string) error {
	payload, err := json.Marshal(map[string]string{
		"channel": channel,
		"body":    text,
	})
	if err != nil {
		return err
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, s.sub, &webpush.Options{
		Subscriber:      s.subject,
		VAPIDPublicKey:  s.public,
		VAPIDPrivateKey: s.private,
		TTL:             3600,
	})
	if resp != nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	if err != nil {
		return err
	}
	if resp != nil && resp.StatusCode >= 400 {
		return fmt.Errorf("webpush endpoint returned %d", resp.StatusCode)
	}
	return nil
}
