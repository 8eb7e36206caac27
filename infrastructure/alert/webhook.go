package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookChannel 把告警推送到 Slack 兼容的 incoming webhook。
type WebhookChannel struct {
	name    string
	url     string
	client  *http.Client
	mention string // CRITICAL 时附加的提及串，例如 "<!channel>"
}

// NewWebhookChannel 创建 webhook 告警通道
func NewWebhookChannel(name, url string) *WebhookChannel {
	return &WebhookChannel{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// SetMention 设置 CRITICAL 级别的提及串
func (c *WebhookChannel) SetMention(mention string) {
	c.mention = mention
}

// Send 推送告警
func (c *WebhookChannel) Send(alert Alert) error {
	text := fmt.Sprintf("[%s] %s", alert.Level, alert.Message)
	if alert.Level == "CRITICAL" && c.mention != "" {
		text = c.mention + " " + text
	}
	for k, v := range alert.Fields {
		text += fmt.Sprintf("\n• %s: %v", k, v)
	}

	payload := map[string]string{"text": text}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	resp, err := c.client.Post(c.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Name 返回通道名称
func (c *WebhookChannel) Name() string {
	return c.name
}
