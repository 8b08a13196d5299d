// Package notify delivers plain-text pipeline notifications over email,
// Telegram and generic webhooks.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pulsereveal/internal/config"
	"pulsereveal/internal/models"
	"pulsereveal/internal/security"
	"pulsereveal/pkg/utils"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	SendError(ctx context.Context, err error, unit string) error
	SendCluster(ctx context.Context, alert models.ClusterAlert, summary string) error
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationCluster NotificationType = "cluster"
	NotificationError   NotificationType = "error"
	NotificationInfo    NotificationType = "info"
)

// NotificationLevel represents the notification level filter.
type NotificationLevel string

const (
	LevelAll        NotificationLevel = "all"
	LevelAlertsOnly NotificationLevel = "alerts_only"
	LevelErrorsOnly NotificationLevel = "errors_only"
)

const userAgent = "pulsereveal/1.0"

// MultiNotifier sends notifications to multiple channels.
type MultiNotifier struct {
	channels []NotificationChannel
	level    NotificationLevel
	logger   zerolog.Logger
	mu       sync.RWMutex
}

// NewMultiNotifier creates a MultiNotifier with the enabled channels of cfg.
// A disabled notifications section yields a notifier with no channels.
func NewMultiNotifier(cfg *config.NotificationConfig, logger zerolog.Logger) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
		level:    NotificationLevel(cfg.Level),
		logger:   logger.With().Str("component", "notify").Logger(),
	}

	if mn.level == "" {
		mn.level = LevelAll
	}
	if !cfg.Enabled {
		return mn
	}

	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramNotifier(cfg.Telegram))
	}
	if cfg.Email.Enabled {
		mn.channels = append(mn.channels, NewEmailNotifier(cfg.Email))
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// ChannelNames lists the enabled channels.
func (mn *MultiNotifier) ChannelNames() []string {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	names := make([]string, 0, len(mn.channels))
	for _, ch := range mn.channels {
		if ch.IsEnabled() {
			names = append(names, ch.Name())
		}
	}
	return names
}

// shouldSend checks if a notification should be sent based on the level filter.
func (mn *MultiNotifier) shouldSend(notifType NotificationType) bool {
	switch mn.level {
	case LevelAlertsOnly:
		return notifType == NotificationCluster
	case LevelErrorsOnly:
		return notifType == NotificationError
	default:
		return true
	}
}

// Send sends a notification to all enabled channels. Every channel is
// attempted once; failures are logged and returned together.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n.Type) {
		return nil
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if !ch.IsEnabled() {
			continue
		}
		if err := ch.Send(ctx, n); err != nil {
			err = security.RedactError(err)
			mn.logger.Warn().Err(err).Str("channel", ch.Name()).Str("type", string(n.Type)).Msg("Notification delivery failed")
			errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			continue
		}
		mn.logger.Debug().Str("channel", ch.Name()).Str("type", string(n.Type)).Msg("Notification sent")
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SendCluster sends a cluster alert with its summary.
func (mn *MultiNotifier) SendCluster(ctx context.Context, alert models.ClusterAlert, summary string) error {
	return mn.Send(ctx, ClusterNotification(alert, summary))
}

// SendError sends a failure notification naming the failed unit.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, unit string) error {
	return mn.Send(ctx, ErrorNotification(err, unit))
}

// ClusterNotification renders a cluster alert as plain text.
func ClusterNotification(alert models.ClusterAlert, summary string) Notification {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Company: %s\n", alert.Company))
	if alert.From != alert.To {
		sb.WriteString(fmt.Sprintf("Window: %s to %s\n", alert.From, alert.To))
	} else {
		sb.WriteString(fmt.Sprintf("Date: %s\n", alert.Date))
	}
	sb.WriteString(fmt.Sprintf("Total: %s\n", utils.FormatUSD(alert.TotalAmount)))
	sb.WriteString(fmt.Sprintf("Insiders (%d): %s\n", alert.InsiderCount(), strings.Join(alert.Insiders, ", ")))
	if summary != "" {
		sb.WriteString("\n" + summary)
	}

	return Notification{
		Type:    NotificationCluster,
		Title:   fmt.Sprintf("Cluster Alert: %s", alert.Company),
		Message: sb.String(),
		Data: map[string]interface{}{
			"company":      alert.Company,
			"date":         alert.Date,
			"from":         alert.From,
			"to":           alert.To,
			"total_amount": alert.TotalAmount.String(),
			"insiders":     alert.Insiders,
		},
	}
}

// ErrorNotification renders a failure as plain text.
func ErrorNotification(err error, unit string) Notification {
	text := security.Redact(err.Error())
	message := fmt.Sprintf("Unit: %s\nError: %s\nTime: %s",
		unit, text, time.Now().UTC().Format(time.RFC3339))

	return Notification{
		Type:    NotificationError,
		Title:   "PulseReveal Crawler Error",
		Message: message,
		Data: map[string]interface{}{
			"unit":  unit,
			"error": text,
		},
	}
}

// WebhookNotifier sends notifications via HTTP webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// Send posts the notification as JSON.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"type":      n.Type,
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}

	return postJSON(ctx, w.client, w.url, payload, "webhook")
}

// TelegramNotifier sends notifications via Telegram bot.
type TelegramNotifier struct {
	apiBase  string
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// NewTelegramNotifier creates a new TelegramNotifier.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		apiBase:  "https://api.telegram.org",
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// IsEnabled returns whether the notifier is enabled.
func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

// Send sends a notification via Telegram. The text is sent without a
// parse mode so company and insider names need no escaping.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	payload := map[string]interface{}{
		"chat_id": t.chatID,
		"text":    n.Title + "\n\n" + n.Message,
	}

	return postJSON(ctx, t.client, url, payload, "telegram")
}

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}, name string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", name, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", name, resp.StatusCode)
	}

	return nil
}

// EmailNotifier sends notifications via email using SMTP.
type EmailNotifier struct {
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
	to       []string
	enabled  bool
}

// NewEmailNotifier creates a new EmailNotifier. To may hold several
// comma-separated recipients.
func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	var to []string
	for _, addr := range strings.Split(cfg.To, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}

	return &EmailNotifier{
		smtpHost: cfg.SMTPHost,
		smtpPort: cfg.SMTPPort,
		username: cfg.Username,
		password: cfg.Password,
		from:     from,
		to:       to,
		enabled:  cfg.Enabled && cfg.SMTPHost != "" && from != "" && len(to) > 0,
	}
}

// Name returns the name of the notifier.
func (e *EmailNotifier) Name() string {
	return "email"
}

// IsEnabled returns whether the notifier is enabled.
func (e *EmailNotifier) IsEnabled() bool {
	return e.enabled
}

// Send sends a notification via email.
func (e *EmailNotifier) Send(ctx context.Context, n Notification) error {
	if !e.enabled {
		return nil
	}

	msg := e.buildMessage(n)
	addr := fmt.Sprintf("%s:%d", e.smtpHost, e.smtpPort)

	var auth smtp.Auth
	if e.username != "" && e.password != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.smtpHost)
	}

	// Implicit TLS on 465, STARTTLS negotiated by SendMail otherwise
	if e.smtpPort == 465 {
		return e.sendWithTLS(addr, auth, msg)
	}

	return smtp.SendMail(addr, auth, e.from, e.to, []byte(msg))
}

func (e *EmailNotifier) buildMessage(n Notification) string {
	return fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		e.from, strings.Join(e.to, ", "), n.Title, n.Message)
}

// sendWithTLS sends email using implicit TLS (port 465).
func (e *EmailNotifier) sendWithTLS(addr string, auth smtp.Auth, msg string) error {
	tlsConfig := &tls.Config{
		ServerName: e.smtpHost,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("TLS dial failed: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.smtpHost)
	if err != nil {
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP auth failed: %w", err)
		}
	}

	if err := client.Mail(e.from); err != nil {
		return fmt.Errorf("SMTP MAIL command failed: %w", err)
	}
	for _, rcpt := range e.to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("SMTP RCPT command failed: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA command failed: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	return client.Quit()
}

// NoOpNotifier is a notifier that does nothing.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Send does nothing.
func (n *NoOpNotifier) Send(ctx context.Context, notif Notification) error {
	return nil
}

// SendError does nothing.
func (n *NoOpNotifier) SendError(ctx context.Context, err error, unit string) error {
	return nil
}

// SendCluster does nothing.
func (n *NoOpNotifier) SendCluster(ctx context.Context, alert models.ClusterAlert, summary string) error {
	return nil
}
