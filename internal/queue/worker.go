package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/feedbackkit/courier/internal/events"
	"github.com/feedbackkit/courier/internal/models"
	"github.com/feedbackkit/courier/internal/store"
	"github.com/feedbackkit/courier/internal/transport"
)

// Sender performs one delivery attempt for a payload. It carries no retry
// logic and mutates no store.
type Sender interface {
	SendPayload(ctx context.Context, p models.Payload, files []models.StoredFile) *transport.RawResult
}

// OutcomeHandler reconciles the owning message after a send attempt
// concludes. The worker owns the payload row; the handler owns the message.
type OutcomeHandler interface {
	// HandleSent is called after the server accepted the message payload.
	HandleSent(nonce string, res *transport.RawResult)

	// HandleRejected is called after a terminal failure dropped the payload.
	HandleRejected(nonce string, res *transport.RawResult)
}

// Worker is the single active sender draining the payload queue in FIFO
// order. At most one payload is in flight at any time: all sending happens on
// the Run goroutine, and a wake-up during a drain is a no-op, not a queued
// duplicate.
type Worker struct {
	payloads   store.PayloadRepo
	files      store.FileRepo
	sender     Sender
	handler    OutcomeHandler
	dispatcher *events.Dispatcher
	policy     RetryPolicy
	classifier transport.ClassifierConfig

	wake chan struct{}

	mu          sync.Mutex
	pauseReason models.PauseReason
	attempts    map[int64]int
	backoff     *backoff.ExponentialBackOff
	resumeTimer *time.Timer
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) WorkerOption {
	return func(w *Worker) { w.policy = p }
}

// WithClassifier overrides the default response classification table.
func WithClassifier(cfg transport.ClassifierConfig) WorkerOption {
	return func(w *Worker) { w.classifier = cfg }
}

// NewWorker creates a send worker over the given queue and transport.
func NewWorker(payloads store.PayloadRepo, files store.FileRepo, sender Sender, handler OutcomeHandler, dispatcher *events.Dispatcher, opts ...WorkerOption) *Worker {
	w := &Worker{
		payloads:   payloads,
		files:      files,
		sender:     sender,
		handler:    handler,
		dispatcher: dispatcher,
		policy:     DefaultRetryPolicy(),
		classifier: transport.DefaultClassifierConfig(),
		wake:       make(chan struct{}, 1),
		attempts:   make(map[int64]int),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.backoff = w.policy.NewBackOff()
	return w
}

// Wake nudges the worker to check the queue. Safe to call from any goroutine;
// extra wake-ups while a drain is running coalesce into at most one more pass.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Resume clears the paused state and wakes the worker. Callers use it on
// external signals such as connectivity regain or app foregrounding; the
// backoff timer calls it too.
func (w *Worker) Resume() {
	w.mu.Lock()
	if w.resumeTimer != nil {
		w.resumeTimer.Stop()
		w.resumeTimer = nil
	}
	resumed := w.pauseReason != models.PauseReasonNone
	w.pauseReason = models.PauseReasonNone
	w.mu.Unlock()

	if resumed {
		slog.Info("Worker.Resume: send pipeline resumed")
		w.dispatcher.Publish(events.Event{Type: events.TypeSendResumed})
	}
	w.Wake()
}

// Paused returns the current pause reason, if any.
func (w *Worker) Paused() (models.PauseReason, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pauseReason, w.pauseReason != models.PauseReasonNone
}

// Run drives the queue until the context is cancelled. It drains once at
// startup to pick up payloads left over from a previous process.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("Worker.Run: starting send worker")
	w.Wake()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Worker.Run: stopping")
			w.stopResumeTimer()
			return
		case <-w.wake:
			w.drain(ctx)
		}
	}
}

func (w *Worker) stopResumeTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.resumeTimer != nil {
		w.resumeTimer.Stop()
		w.resumeTimer = nil
	}
}

// drain sends queued payloads oldest-first until the queue empties, the
// pipeline pauses, or the context ends. It only ever runs on the Run
// goroutine, which enforces the single in-flight invariant.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, paused := w.Paused(); paused {
			return
		}
		p, err := w.payloads.PeekOldestPayload()
		if err != nil {
			slog.Error("Worker.drain: peek failed", "error", err)
			return
		}
		if p == nil {
			return
		}
		if !w.sendOne(ctx, p) {
			return
		}
	}
}

// sendOne performs one attempt and applies the outcome. It returns true when
// the drain should continue with the next payload immediately.
func (w *Worker) sendOne(ctx context.Context, p *models.Payload) bool {
	nonce := models.PayloadNonce(*p)

	var files []models.StoredFile
	if p.BaseType == models.PayloadBaseTypeMessage && nonce != "" {
		var err error
		files, err = w.files.GetMessageFiles(nonce)
		if err != nil {
			slog.Error("Worker.sendOne: attachment lookup failed", "nonce", nonce, "error", err)
			files = nil
		}
	}

	res := w.sender.SendPayload(ctx, *p, files)
	class := w.classifier.Classify(res)
	attempt := w.bumpAttempts(p.DatabaseID)
	slog.Debug("Worker.sendOne: attempt concluded",
		"id", p.DatabaseID, "baseType", p.BaseType, "class", class.String(), "attempt", attempt)

	if class == transport.ClassSuccess {
		if err := w.payloads.DeletePayload(p.DatabaseID); err != nil {
			slog.Error("Worker.sendOne: delete after success failed", "id", p.DatabaseID, "error", err)
			return false
		}
		w.clearAttempts(p.DatabaseID)
		if p.BaseType == models.PayloadBaseTypeMessage && w.handler != nil {
			w.handler.HandleSent(nonce, res)
		}
		return true
	}

	if w.policy.ShouldRetry(class, attempt) {
		w.pause(class)
		return false
	}

	// Terminal: drop the send attempt, keep draining.
	if err := w.payloads.DeletePayload(p.DatabaseID); err != nil {
		slog.Error("Worker.sendOne: delete after terminal failure failed", "id", p.DatabaseID, "error", err)
		return false
	}
	w.clearAttempts(p.DatabaseID)
	slog.Warn("Worker.sendOne: payload dropped", "id", p.DatabaseID, "class", class.String())
	if p.BaseType == models.PayloadBaseTypeMessage && w.handler != nil {
		w.handler.HandleRejected(nonce, res)
	}
	return true
}

// pause stops the pipeline, schedules the auto-resume timer, and notifies
// listeners. The failed payload stays queued and is retried first on resume.
func (w *Worker) pause(class transport.Classification) {
	reason := models.PauseReasonServer
	if class == transport.ClassNetworkFailure {
		reason = models.PauseReasonNetwork
	}

	w.mu.Lock()
	w.pauseReason = reason
	delay := w.backoff.NextBackOff()
	if w.resumeTimer != nil {
		w.resumeTimer.Stop()
	}
	w.resumeTimer = time.AfterFunc(delay, w.Resume)
	w.mu.Unlock()

	slog.Info("Worker.pause: send pipeline paused", "reason", reason.String(), "retryIn", delay)
	w.dispatcher.Publish(events.Event{Type: events.TypeSendPaused, Reason: reason})
}

func (w *Worker) bumpAttempts(id int64) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[id]++
	return w.attempts[id]
}

func (w *Worker) clearAttempts(id int64) {
	w.mu.Lock()
	delete(w.attempts, id)
	w.backoff.Reset()
	w.mu.Unlock()
}
