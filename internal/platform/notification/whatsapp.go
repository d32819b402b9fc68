package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WhatsAppSender delivers messages through the Green API sendMessage endpoint.
type WhatsAppSender struct {
	baseURL  string
	instance string
	token    string
	client   *http.Client
}

func NewWhatsAppSender(baseURL, instance, token string) *WhatsAppSender {
	return &WhatsAppSender{
		baseURL:  strings.TrimRight(baseURL, "/"),
		instance: instance,
		token:    token,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type sendMessageRequest struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

func (s *WhatsAppSender) endpoint() string {
	return fmt.Sprintf("%s/waInstance%s/sendMessage/%s", s.baseURL, s.instance, s.token)
}

func (s *WhatsAppSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: ChatID(msg.Phone), Message: msg.Text})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("green api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
