package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"tradebot/internal/exchange"
	"tradebot/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SlackNotifier отправляет сообщения во входящий webhook Slack
//
// Пустой webhookURL отключает отправку: Send возвращает nil.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier создаёт нотификатор. client == nil - общий HTTP клиент.
func NewSlackNotifier(webhookURL string, client *http.Client) *SlackNotifier {
	if client == nil {
		client = exchange.GetGlobalHTTPClient().GetClient()
	}
	return &SlackNotifier{
		webhookURL: strings.TrimSpace(webhookURL),
		client:     client,
	}
}

// Enabled - задан ли webhook
func (s *SlackNotifier) Enabled() bool {
	return s.webhookURL != ""
}

type slackMessage struct {
	Text string `json:"text"`
}

// Send публикует текст в канал
func (s *SlackNotifier) Send(ctx context.Context, text string) error {
	if !s.Enabled() {
		return nil
	}

	body, err := json.Marshal(slackMessage{Text: text})
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// FormatNotification - текст сообщения Slack для уведомления бота
func FormatNotification(n *models.Notification) string {
	var icon string
	switch n.Severity {
	case models.SeverityError:
		icon = ":rotating_light:"
	case models.SeverityWarn:
		icon = ":warning:"
	default:
		icon = ":information_source:"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*", icon, n.Type)
	if n.Market != "" {
		fmt.Fprintf(&b, " [%s]", n.Market)
	}
	b.WriteString(" ")
	b.WriteString(n.Message)
	return b.String()
}
