package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TaskWhatsAppSend is the asynq task type for queued WhatsApp messages.
const TaskWhatsAppSend = "whatsapp:send"

// NewWhatsAppTask wraps msg into an asynq task on the critical queue for OTP
// codes and the default queue otherwise.
func NewWhatsAppTask(msg Message) (*asynq.Task, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	queue := "default"
	if msg.Kind == "otp" {
		queue = "critical"
	}
	return asynq.NewTask(
		TaskWhatsAppSend,
		payload,
		asynq.MaxRetry(5),
		asynq.Queue(queue),
		asynq.Timeout(30*time.Second),
	), nil
}

// Enqueuer is the part of asynq.Client used by QueueNotifier.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueNotifier hands messages to the worker through Redis.
type QueueNotifier struct {
	client Enqueuer
	logger zerolog.Logger
}

func NewQueueNotifier(client Enqueuer, logger zerolog.Logger) *QueueNotifier {
	return &QueueNotifier{client: client, logger: logger}
}

func (n *QueueNotifier) Notify(ctx context.Context, msg Message) error {
	task, err := NewWhatsAppTask(msg)
	if err != nil {
		return fmt.Errorf("build whatsapp task: %w", err)
	}
	info, err := n.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue whatsapp task: %w", err)
	}
	n.logger.Debug().Str("task_id", info.ID).Str("queue", info.Queue).Str("kind", msg.Kind).Msg("whatsapp message enqueued")
	return nil
}

// Worker consumes whatsapp:send tasks and delivers them with a Sender.
type Worker struct {
	server *asynq.Server
	sender Sender
	logger zerolog.Logger
}

func NewWorker(redis asynq.RedisClientOpt, concurrency int, sender Sender, logger zerolog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 10
	}
	server := asynq.NewServer(redis, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
	})
	return &Worker{server: server, sender: sender, logger: logger}
}

// Mux routes task types to handlers.
func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskWhatsAppSend, w.HandleWhatsAppTask)
	return mux
}

// Start runs the worker in the background.
func (w *Worker) Start() error {
	w.logger.Info().Msg("starting notification worker")
	return w.server.Start(w.Mux())
}

// Stop waits for in-flight tasks and stops the worker.
func (w *Worker) Stop() {
	w.logger.Info().Msg("stopping notification worker")
	w.server.Shutdown()
}

// HandleWhatsAppTask decodes and sends one message. Malformed payloads are not retried.
func (w *Worker) HandleWhatsAppTask(ctx context.Context, t *asynq.Task) error {
	var msg Message
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		return fmt.Errorf("decode whatsapp payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := w.sender.Send(ctx, msg); err != nil {
		w.logger.Error().Err(err).Str("kind", msg.Kind).Str("chat_id", ChatID(msg.Phone)).Msg("whatsapp delivery failed")
		return err
	}
	w.logger.Info().Str("kind", msg.Kind).Str("chat_id", ChatID(msg.Phone)).Msg("whatsapp message delivered")
	return nil
}
