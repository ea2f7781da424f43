package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"callsync/internal/calls"
	"callsync/pkg/logger"

	"github.com/hibiken/asynq"
)

// TaskRedeliverStatus re-applies a provider status event that arrived before its call
// record was persisted.
const TaskRedeliverStatus = "call_status:redeliver"

type RedeliveryPayload struct {
	Event calls.StatusEvent `json:"event"`
}

func NewRedeliveryTask(ev calls.StatusEvent) (*asynq.Task, error) {
	data, err := json.Marshal(RedeliveryPayload{Event: ev})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRedeliverStatus, data), nil
}

func ParseRedeliveryPayload(task *asynq.Task) (calls.StatusEvent, error) {
	var payload RedeliveryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return calls.StatusEvent{}, err
	}
	return payload.Event, nil
}

// RedeliveryConfig controls deferred redelivery.
type RedeliveryConfig struct {
	Queue       string
	Delay       time.Duration
	MaxRetry    int
	Concurrency int
}

func (c RedeliveryConfig) withDefaults() RedeliveryConfig {
	if c.Queue == "" {
		c.Queue = "default"
	}
	if c.Delay <= 0 {
		c.Delay = 5 * time.Second
	}
	if c.MaxRetry < 0 {
		c.MaxRetry = 0
	}
	if c.Concurrency < 1 {
		c.Concurrency = 10
	}
	return c
}

// Scheduler defers an event for a later attempt.
type Scheduler interface {
	ScheduleRedelivery(ctx context.Context, ev calls.StatusEvent) error
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// RedeliveryClient enqueues redelivery tasks.
type RedeliveryClient struct {
	client enqueuer
	cfg    RedeliveryConfig
}

func NewRedeliveryClient(opt asynq.RedisConnOpt, cfg RedeliveryConfig) *RedeliveryClient {
	return &RedeliveryClient{client: asynq.NewClient(opt), cfg: cfg.withDefaults()}
}

func (c *RedeliveryClient) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// ScheduleRedelivery enqueues ev after the configured delay. A redelivery already pending for
// the same token and status is not scheduled twice.
func (c *RedeliveryClient) ScheduleRedelivery(ctx context.Context, ev calls.StatusEvent) error {
	if c == nil || c.client == nil {
		return errors.New("reconcile: redelivery not configured")
	}
	task, err := NewRedeliveryTask(ev)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.cfg.Queue),
		asynq.ProcessIn(c.cfg.Delay),
		asynq.MaxRetry(c.cfg.MaxRetry),
		asynq.TaskID(redeliveryTaskID(ev)),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue redelivery: %w", err)
	}
	return nil
}

func redeliveryTaskID(ev calls.StatusEvent) string {
	return "redeliver:" + ev.Token + ":" + string(ev.Status)
}

// RedeliveryWorker consumes redelivery tasks and feeds them back into the engine.
type RedeliveryWorker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	engine Applier
	log    *slog.Logger
}

func NewRedeliveryWorker(opt asynq.RedisConnOpt, engine Applier, cfg RedeliveryConfig, log *slog.Logger) *RedeliveryWorker {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.Discard()
	}
	delay := cfg.Delay

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			cfg.Queue: 1,
		},
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			return delay
		},
	})

	w := &RedeliveryWorker{
		server: server,
		mux:    asynq.NewServeMux(),
		engine: engine,
		log:    log.With("component", "redelivery_worker"),
	}
	w.mux.HandleFunc(TaskRedeliverStatus, w.HandleRedelivery)
	return w
}

// Run blocks until ctx is cancelled.
func (w *RedeliveryWorker) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("redelivery worker stopped", "error", err)
		return err
	}
	return nil
}

// HandleRedelivery retries while the token is still unknown or the store failed; anything
// else is permanent.
func (w *RedeliveryWorker) HandleRedelivery(ctx context.Context, task *asynq.Task) error {
	ev, err := ParseRedeliveryPayload(task)
	if err != nil {
		return fmt.Errorf("decode redelivery: %v: %w", err, asynq.SkipRetry)
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid redelivery: %v: %w", err, asynq.SkipRetry)
	}

	res, err := w.engine.ApplyEvent(ctx, ev)
	switch {
	case err == nil:
		w.log.Info("redelivered status event applied", "call_sid", ev.Token, "outcome", res.Outcome)
		return nil
	case errors.Is(err, calls.ErrUnknownCallToken):
		if retried, ok := asynq.GetRetryCount(ctx); ok {
			if maxRetry, ok := asynq.GetMaxRetry(ctx); ok && retried >= maxRetry {
				w.log.Warn("dropping status event for unknown call token", "call_sid", ev.Token, "attempts", retried+1)
			}
		}
		return err
	case calls.KindOf(err) == calls.KindInternal:
		return err
	default:
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
}
