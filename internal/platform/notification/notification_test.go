package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

func TestChatID(t *testing.T) {
	tests := []struct {
		phone string
		want  string
	}{
		{"+7 (701) 123-45-67", "77011234567@c.us"},
		{"77011234567", "77011234567@c.us"},
		{"7011234567", "7011234567@c.us"},
		{"8 701 123 45 67", "787011234567@c.us"},
		{"(912) 345-67-89", "79123456789@c.us"},
	}
	for _, tt := range tests {
		if got := ChatID(tt.phone); got != tt.want {
			t.Errorf("ChatID(%q) = %q, want %q", tt.phone, got, tt.want)
		}
	}
}

func TestTemplateEngine_OTP(t *testing.T) {
	body, err := NewTemplateEngine().Render(TemplateOTP, map[string]string{"code": "123456"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if body != "Ваш код подтверждения для входа в CRM: 123456" {
		t.Errorf("unexpected body: %q", body)
	}
}

func TestTemplateEngine_ContractLeavesUnknownPlaceholders(t *testing.T) {
	body, err := NewTemplateEngine().Render(TemplateContract, map[string]string{
		"clinic_name":     "Клиника №1",
		"contract_number": "D-17",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(body, "от Клиника №1.") || !strings.Contains(body, "Номер договора: D-17") {
		t.Errorf("expected substitutions, got %q", body)
	}
	if !strings.Contains(body, "{{link}}") {
		t.Errorf("expected unknown placeholder to stay, got %q", body)
	}
}

func TestTemplateEngine_Missing(t *testing.T) {
	if _, err := NewTemplateEngine().Render("nope", nil); err == nil {
		t.Fatal("expected error for missing template")
	}
}

func TestWhatsAppSender_Send(t *testing.T) {
	var gotPath string
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"idMessage":"abc"}`))
	}))
	defer srv.Close()

	s := NewWhatsAppSender(srv.URL+"/", "1101", "secret")
	if err := s.Send(context.Background(), Message{Phone: "+7 701 123 45 67", Text: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/waInstance1101/sendMessage/secret" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if got.ChatID != "77011234567@c.us" || got.Message != "hi" {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestWhatsAppSender_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("instance not authorized"))
	}))
	defer srv.Close()

	err := NewWhatsAppSender(srv.URL, "1", "t").Send(context.Background(), Message{Phone: "7000", Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected status error, got %v", err)
	}
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: "default"}, nil
}

func TestQueueNotifier_Enqueues(t *testing.T) {
	enq := &fakeEnqueuer{}
	n := NewQueueNotifier(enq, zerolog.Nop())

	if err := n.Notify(context.Background(), Message{Phone: "77011234567", Text: "hello", Kind: "contract"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(enq.tasks) != 1 || enq.tasks[0].Type() != TaskWhatsAppSend {
		t.Fatalf("expected one whatsapp task, got %+v", enq.tasks)
	}
	var msg Message
	if err := json.Unmarshal(enq.tasks[0].Payload(), &msg); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if msg.Text != "hello" || msg.Kind != "contract" {
		t.Errorf("unexpected payload: %+v", msg)
	}
}

func TestQueueNotifier_EnqueueError(t *testing.T) {
	n := NewQueueNotifier(&fakeEnqueuer{err: errors.New("redis down")}, zerolog.Nop())
	if err := n.Notify(context.Background(), Message{Phone: "7", Text: "x"}); err == nil {
		t.Fatal("expected enqueue error")
	}
}

func TestWorker_HandleWhatsAppTask(t *testing.T) {
	sender := &MockSender{}
	w := &Worker{sender: sender, logger: zerolog.Nop()}

	task, err := NewWhatsAppTask(Message{Phone: "77011234567", Text: "code", Kind: "otp"})
	if err != nil {
		t.Fatalf("NewWhatsAppTask: %v", err)
	}
	if err := w.HandleWhatsAppTask(context.Background(), task); err != nil {
		t.Fatalf("HandleWhatsAppTask: %v", err)
	}
	if msgs := sender.Messages(); len(msgs) != 1 || msgs[0].Text != "code" {
		t.Errorf("unexpected deliveries: %+v", msgs)
	}
}

func TestWorker_HandleWhatsAppTask_BadPayload(t *testing.T) {
	w := &Worker{sender: &MockSender{}, logger: zerolog.Nop()}
	err := w.HandleWhatsAppTask(context.Background(), asynq.NewTask(TaskWhatsAppSend, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestWorker_HandleWhatsAppTask_SendFails(t *testing.T) {
	w := &Worker{sender: &MockSender{ShouldFail: true}, logger: zerolog.Nop()}
	task, _ := NewWhatsAppTask(Message{Phone: "7", Text: "x"})
	if err := w.HandleWhatsAppTask(context.Background(), task); err == nil {
		t.Fatal("expected delivery error to be returned for retry")
	}
}

func TestInlineNotifier(t *testing.T) {
	sender := &MockSender{}
	if err := NewInlineNotifier(sender).Notify(context.Background(), Message{Phone: "7", Text: "x"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sender.Messages()) != 1 {
		t.Error("expected message to be sent inline")
	}
}
