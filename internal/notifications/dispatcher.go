package notifications

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"transferdesk/internal/models"
	"transferdesk/internal/observability"
	"transferdesk/internal/repository"
)

// Message is the fully resolved notification handed to the delivery service.
type Message struct {
	Template   Template               `json:"template"`
	Recipients []string               `json:"recipients"`
	ActorEmail string                 `json:"actor_email,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// Sender is the external fire-and-forget delivery capability. Rendering and
// transport live outside this service.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Event describes a request lifecycle event awaiting dispatch. ActorID is nil
// when the mutation came through an emailed action link, where the actor is
// the token itself.
type Event struct {
	RequestID     uint
	RequestNumber string
	RequestType   models.RequestType
	Kind          string
	ActorID       *uint
	BrokerID      uint
	Payload       map[string]interface{}
}

// Dispatcher delivers lifecycle notifications asynchronously. Enqueue never
// blocks the caller: the queue is bounded and overflow drops the event with a
// log line. Failures are logged and counted, never surfaced to the mutation
// that triggered them.
type Dispatcher struct {
	sender Sender
	users  repository.UserRepository
	queue  chan Event
	log    *slog.Logger

	startOnce sync.Once
	done      chan struct{}
}

// NewDispatcher creates a dispatcher with a bounded queue.
func NewDispatcher(sender Sender, users repository.UserRepository, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		sender: sender,
		users:  users,
		queue:  make(chan Event, queueSize),
		log:    observability.GlobalLogger.Logger,
		done:   make(chan struct{}),
	}
}

// Start launches the worker goroutine. Subsequent calls are no-ops.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		go d.run(ctx)
	})
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			// Drain whatever is already queued before exiting.
			for {
				select {
				case ev := <-d.queue:
					d.dispatch(context.Background(), ev)
				default:
					return
				}
			}
		case ev, ok := <-d.queue:
			if !ok {
				return
			}
			d.dispatch(ctx, ev)
		}
	}
}

// Enqueue submits an event for asynchronous dispatch. It is called after the
// triggering transition has committed and never blocks.
func (d *Dispatcher) Enqueue(ev Event) {
	select {
	case d.queue <- ev:
	default:
		template := TemplateFor(ev.RequestType, ev.Kind)
		observability.NotificationsDispatched.WithLabelValues(string(template), "dropped").Inc()
		d.log.Warn("notification queue full, dropping event",
			slog.Uint64("request_id", uint64(ev.RequestID)),
			slog.String("kind", ev.Kind),
		)
	}
}

// Shutdown waits for the worker to finish or the context to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("PANIC in notification dispatch",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	template := TemplateFor(ev.RequestType, ev.Kind)

	msg, ok := d.resolve(ctx, ev, template)
	if !ok {
		observability.NotificationsDispatched.WithLabelValues(string(template), "skipped").Inc()
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := d.sender.Send(sendCtx, msg); err != nil {
		observability.NotificationsDispatched.WithLabelValues(string(template), "failed").Inc()
		d.log.Error("notification dispatch failed",
			slog.Uint64("request_id", uint64(ev.RequestID)),
			slog.String("template", string(template)),
			slog.String("error", err.Error()),
		)
		return
	}
	observability.NotificationsDispatched.WithLabelValues(string(template), "sent").Inc()
}

// resolve looks up the acting and subject parties' contact identity. Any
// missing contact skips the dispatch (logged as missing data); there are no
// retries.
func (d *Dispatcher) resolve(ctx context.Context, ev Event, template Template) (Message, bool) {
	var actorEmail string
	if ev.ActorID != nil {
		actor, err := d.users.GetByID(ctx, *ev.ActorID)
		if err != nil {
			d.log.Warn("notification skipped: missing data",
				slog.Uint64("request_id", uint64(ev.RequestID)),
				slog.String("missing", "actor contact"),
			)
			return Message{}, false
		}
		actorEmail = actor.Email
	}

	var recipients []string
	if audienceReviewers(template) {
		reviewers, err := d.users.ListReviewers(ctx)
		if err == nil {
			for _, rv := range reviewers {
				if rv.Email != "" {
					recipients = append(recipients, rv.Email)
				}
			}
		}
	} else {
		broker, err := d.users.GetByID(ctx, ev.BrokerID)
		if err == nil && broker.Email != "" {
			recipients = append(recipients, broker.Email)
		}
	}
	if len(recipients) == 0 {
		d.log.Warn("notification skipped: missing data",
			slog.Uint64("request_id", uint64(ev.RequestID)),
			slog.String("missing", "recipient contact"),
		)
		return Message{}, false
	}

	payload := map[string]interface{}{
		"request_id":     ev.RequestID,
		"request_number": ev.RequestNumber,
		"request_type":   ev.RequestType,
		"kind":           ev.Kind,
	}
	for k, v := range ev.Payload {
		payload[k] = v
	}

	return Message{
		Template:   template,
		Recipients: recipients,
		ActorEmail: actorEmail,
		Payload:    payload,
	}, true
}
