// Package email sends alert mail through a Resend-compatible JSON API.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"khata/internal/notify"
)

var ErrNotConfigured = errors.New("email sender not configured")

type request struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type Sender struct {
	client  *http.Client
	apiKey  string
	baseURL string
	from    string
}

func NewSender(apiKey, baseURL, from string) *Sender {
	return &Sender{
		client:  &http.Client{Timeout: 30 * time.Second},
		apiKey:  apiKey,
		baseURL: baseURL,
		from:    from,
	}
}

// Enabled reports whether an API key is configured. Mail is optional;
// callers skip sending when disabled.
func (s *Sender) Enabled() bool {
	return s.apiKey != "" && s.from != ""
}

func (s *Sender) Send(ctx context.Context, to, subject, htmlBody string) error {
	if !s.Enabled() {
		return ErrNotConfigured
	}

	payload, err := json.Marshal(request{
		From:    fmt.Sprintf("Expense Manager <%s>", s.from),
		To:      []string{to},
		Subject: subject,
		HTML:    htmlBody,
	})
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send email: status %d: %s", resp.StatusCode, msg)
	}
	return nil
}

// SendAlert renders one budget notification as mail.
func (s *Sender) SendAlert(ctx context.Context, to string, n notify.Notification) error {
	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background-color: #f3f4f6;">
    <table role="presentation" style="max-width: 600px; margin: 0 auto; background-color: #ffffff; border-radius: 12px;">
        <tr>
            <td style="padding: 30px; background-color: #1f2937; border-radius: 12px 12px 0 0;">
                <h1 style="margin: 0; color: #ffffff; font-size: 22px;">Expense Manager</h1>
            </td>
        </tr>
        <tr>
            <td style="padding: 30px;">
                <h2 style="margin: 0 0 16px 0; color: #1f2937; font-size: 20px;">%s</h2>
                <p style="margin: 0; color: #4b5563; font-size: 16px; line-height: 1.6;">%s</p>
            </td>
        </tr>
    </table>
</body>
</html>
`, html.EscapeString(n.Title), html.EscapeString(n.Message))

	return s.Send(ctx, to, n.Title, htmlBody)
}
