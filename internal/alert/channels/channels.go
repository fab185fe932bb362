// Package channels implements the narrow delivery adapters for the alert
// dispatcher (C9, spec.md §4.9 / §6): one Channel per supported kind
// (mattermost, slack, telegram, webhook, email), each a thin wrapper over
// net/http or net/smtp.
package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"github.com/alexeiveselov92/detectkit/internal/config"
)

// DefaultTimeout is the per-channel delivery timeout spec.md §5 defaults
// to 10s absent a channel-specific override.
const DefaultTimeout = 10 * time.Second

// Channel delivers a rendered alert message to one destination.
type Channel interface {
	Send(ctx context.Context, message string) error
}

// Build constructs the Channel for a declared alert_channels entry.
func Build(cfg config.AlertChannelConfig) (Channel, error) {
	switch cfg.Type {
	case config.ChannelMattermost:
		return newWebhookJSON(cfg, "text")
	case config.ChannelSlack:
		return newWebhookJSON(cfg, "text")
	case config.ChannelTelegram:
		return newTelegram(cfg)
	case config.ChannelWebhook:
		return newGenericWebhook(cfg)
	case config.ChannelEmail:
		return newEmail(cfg)
	default:
		return nil, fmt.Errorf("channels: unsupported channel type %q", cfg.Type)
	}
}

func fieldString(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func timeoutOf(fields map[string]any) time.Duration {
	if v, ok := fields["timeout_seconds"]; ok {
		if f, ok := toFloat(v); ok && f > 0 {
			return time.Duration(f * float64(time.Second))
		}
	}
	return DefaultTimeout
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

// webhookJSON posts {"<field>": message} to a configured URL — the shape
// mattermost's and slack's incoming-webhook endpoints both accept.
type webhookJSON struct {
	url     string
	field   string
	timeout time.Duration
	client  *http.Client
}

func newWebhookJSON(cfg config.AlertChannelConfig, field string) (Channel, error) {
	url := fieldString(cfg.Fields, "url")
	if url == "" {
		return nil, fmt.Errorf("channels.%s: url is required", cfg.Name)
	}
	timeout := timeoutOf(cfg.Fields)
	return &webhookJSON{url: url, field: field, timeout: timeout, client: &http.Client{Timeout: timeout}}, nil
}

func (w *webhookJSON) Send(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]string{w.field: message})
	if err != nil {
		return fmt.Errorf("channels: marshal payload: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("channels: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("channels: non-2xx response: %d", resp.StatusCode)
	}
	return nil
}

// telegramChannel delivers via the Bot API's sendMessage endpoint.
type telegramChannel struct {
	botToken string
	chatID   string
	timeout  time.Duration
	client   *http.Client
}

func newTelegram(cfg config.AlertChannelConfig) (Channel, error) {
	token := fieldString(cfg.Fields, "bot_token")
	chatID := fieldString(cfg.Fields, "chat_id")
	if token == "" || chatID == "" {
		return nil, fmt.Errorf("channels.%s: bot_token and chat_id are required", cfg.Name)
	}
	timeout := timeoutOf(cfg.Fields)
	return &telegramChannel{botToken: token, chatID: chatID, timeout: timeout, client: &http.Client{Timeout: timeout}}, nil
}

func (t *telegramChannel) Send(ctx context.Context, message string) error {
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	form := url.Values{"chat_id": {t.chatID}, "text": {message}}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("channels: telegram request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("channels: telegram non-2xx response: %d", resp.StatusCode)
	}
	return nil
}

// genericWebhook posts a raw {"message": ...} body, for arbitrary
// receivers that aren't a chat platform.
type genericWebhook struct {
	url     string
	method  string
	timeout time.Duration
	client  *http.Client
}

func newGenericWebhook(cfg config.AlertChannelConfig) (Channel, error) {
	u := fieldString(cfg.Fields, "url")
	if u == "" {
		return nil, fmt.Errorf("channels.%s: url is required", cfg.Name)
	}
	method := fieldString(cfg.Fields, "method")
	if method == "" {
		method = http.MethodPost
	}
	timeout := timeoutOf(cfg.Fields)
	return &genericWebhook{url: u, method: method, timeout: timeout, client: &http.Client{Timeout: timeout}}, nil
}

func (g *genericWebhook) Send(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return fmt.Errorf("channels: marshal payload: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, g.method, g.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("channels: webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("channels: webhook non-2xx response: %d", resp.StatusCode)
	}
	return nil
}

// emailChannel delivers via SMTP, with optional STARTTLS/auth.
type emailChannel struct {
	host     string
	port     string
	username string
	password string
	from     string
	to       []string
	timeout  time.Duration
}

func newEmail(cfg config.AlertChannelConfig) (Channel, error) {
	host := fieldString(cfg.Fields, "smtp_host")
	from := fieldString(cfg.Fields, "from")
	toRaw, _ := cfg.Fields["to"].([]any)
	if host == "" || from == "" || len(toRaw) == 0 {
		return nil, fmt.Errorf("channels.%s: smtp_host, from, and to are required", cfg.Name)
	}
	to := make([]string, 0, len(toRaw))
	for _, v := range toRaw {
		if s, ok := v.(string); ok {
			to = append(to, s)
		}
	}
	port := fieldString(cfg.Fields, "smtp_port")
	if port == "" {
		port = "587"
	}
	return &emailChannel{
		host:     host,
		port:     port,
		username: fieldString(cfg.Fields, "username"),
		password: fieldString(cfg.Fields, "password"),
		from:     from,
		to:       to,
		timeout:  timeoutOf(cfg.Fields),
	}, nil
}

func (e *emailChannel) Send(ctx context.Context, message string) error {
	addr := fmt.Sprintf("%s:%s", e.host, e.port)
	var auth smtp.Auth
	if e.username != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.host)
	}

	subject := "detectkit alert"
	if nl := strings.IndexByte(message, '\n'); nl >= 0 {
		subject = message[:nl]
	}
	var body bytes.Buffer
	fmt.Fprintf(&body, "From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n%s\r\n",
		e.from, strings.Join(e.to, ", "), subject, message)

	done := make(chan error, 1)
	go func() { done <- smtp.SendMail(addr, auth, e.from, e.to, body.Bytes()) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("channels: smtp send failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.timeout):
		return fmt.Errorf("channels: smtp send timed out after %s", e.timeout)
	}
}
