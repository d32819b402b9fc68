// Package notification delivers WhatsApp messages to employers and users,
// either inline or through a Redis-backed asynq queue.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Message is one outbound WhatsApp text.
type Message struct {
	Phone string `json:"phone"`
	Text  string `json:"text"`
	// Kind labels the message for logs ("otp", "contract").
	Kind string `json:"kind,omitempty"`
}

// Sender delivers a message synchronously.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Notifier accepts a message for delivery. Implementations may deliver later.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// ChatID converts a free-form phone number into a WhatsApp chat id:
// "+7 (701) 123-45-67" -> "77011234567@c.us". Numbers not starting with 7
// get the country prefix.
func ChatID(phone string) string {
	digits := strings.NewReplacer("+", "", " ", "", "-", "", "(", "", ")", "").Replace(phone)
	if !strings.HasPrefix(digits, "7") {
		digits = "7" + digits
	}
	return digits + "@c.us"
}

// Templates used by the CRM. Placeholders are {{key}}.
const (
	TemplateOTP       = "otp"
	TemplateContract  = "contract-approval"
	TemplateEmergency = "emergency-notice"
)

// TemplateEngine renders message bodies from named templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]string
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]string)}
	e.templates[TemplateOTP] = "Ваш код подтверждения для входа в CRM: {{code}}"
	e.templates[TemplateContract] = `Добрый день!

Вам отправлен договор на согласование от {{clinic_name}}.

Номер договора: {{contract_number}}
Дата: {{contract_date}}
Сумма: {{amount}} тенге
Количество сотрудников: {{people_count}}

Для подписания договора перейдите по ссылке:
{{link}}

Если у вас нет аккаунта, зарегистрируйтесь по этой ссылке.`
	e.templates[TemplateEmergency] = `Экстренное извещение от {{clinic_name}}.

Сотрудник: {{patient_name}} ({{position}}, {{department}})
Заболевание: {{disease_type}}
Диагноз: {{diagnosis}}`
	return e
}

// Render replaces {{key}} placeholders with data. Unknown placeholders stay as-is.
func (e *TemplateEngine) Render(id string, data map[string]string) (string, error) {
	e.mu.RLock()
	body, ok := e.templates[id]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template %q not found", id)
	}
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return body, nil
}

// InlineNotifier sends immediately through a Sender.
type InlineNotifier struct {
	sender Sender
}

func NewInlineNotifier(sender Sender) *InlineNotifier {
	return &InlineNotifier{sender: sender}
}

func (n *InlineNotifier) Notify(ctx context.Context, msg Message) error {
	return n.sender.Send(ctx, msg)
}

// LogSender writes messages to the log instead of delivering them. Used when
// Green API credentials are not configured.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info().
		Str("chat_id", ChatID(msg.Phone)).
		Str("kind", msg.Kind).
		Str("text", msg.Text).
		Msg("whatsapp delivery disabled, message logged")
	return nil
}

// MockSender records messages; tests across packages use it as a Sender and Notifier.
type MockSender struct {
	mu         sync.Mutex
	messages   []Message
	ShouldFail bool
}

func (m *MockSender) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	if m.ShouldFail {
		return errors.New("whatsapp delivery failed")
	}
	return nil
}

func (m *MockSender) Notify(ctx context.Context, msg Message) error {
	return m.Send(ctx, msg)
}

// Messages returns a copy of the recorded messages.
func (m *MockSender) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}
