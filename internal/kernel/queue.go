package kernel

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrQueueClosed is returned to submitters once the worker has stopped.
var ErrQueueClosed = errors.New("kernel task queue closed")

// Executor runs one task.
type Executor interface {
	Execute(ctx context.Context, req Request) (any, error)
}

type outcome struct {
	value any
	err   error
}

type task struct {
	req      Request
	connID   string
	enqueued time.Time
	reply    chan outcome
}

// Queue is an unbounded FIFO of tasks drained by a single worker. A task
// whose submitter gave up still runs; its result is dropped.
type Queue struct {
	exec  Executor
	audit AuditLogger
	log   *zap.Logger

	mu      sync.Mutex
	pending []*task
	notify  chan struct{}
	done    chan struct{}
	running bool
}

// NewQueue creates a queue feeding exec. audit may be nil.
func NewQueue(exec Executor, audit AuditLogger, log *zap.Logger) *Queue {
	if audit == nil {
		audit = nopAudit{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		exec:   exec,
		audit:  audit,
		log:    log,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Submit enqueues req and waits for its outcome or for ctx to end.
func (q *Queue) Submit(ctx context.Context, connID string, req Request) (any, error) {
	t := &task{
		req:      req,
		connID:   connID,
		enqueued: time.Now(),
		reply:    make(chan outcome, 1),
	}

	q.mu.Lock()
	select {
	case <-q.done:
		q.mu.Unlock()
		return nil, ErrQueueClosed
	default:
	}
	q.pending = append(q.pending, t)
	depth := len(q.pending)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	q.log.Debug("task enqueued",
		zap.String("conn", connID),
		zap.String("type", req.Type),
		zap.Int("depth", depth))

	select {
	case out := <-t.reply:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		// The worker may have finished this task just before stopping.
		select {
		case out := <-t.reply:
			return out.value, out.err
		default:
			return nil, ErrQueueClosed
		}
	}
}

// Run drains the queue until ctx is cancelled. The in-flight task always
// runs to completion; tasks still waiting are abandoned.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return errors.New("kernel task queue already running")
	}
	q.running = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		close(q.done)
		q.pending = nil
		q.mu.Unlock()
	}()

	// Tasks are not cancelled mid-flight when the server shuts down.
	taskCtx := context.WithoutCancel(ctx)
	for {
		t := q.pop()
		if t == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-q.notify:
				continue
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		q.run(taskCtx, t)
	}
}

func (q *Queue) pop() *task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	t := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return t
}

func (q *Queue) run(ctx context.Context, t *task) {
	start := time.Now()
	value, err := q.exec.Execute(ctx, t.req)
	elapsed := time.Since(start)

	t.reply <- outcome{value: value, err: err}

	fields := []zap.Field{
		zap.String("conn", t.connID),
		zap.String("type", t.req.Type),
		zap.Duration("wait", start.Sub(t.enqueued)),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		q.log.Debug("task failed", append(fields, zap.Error(err))...)
	} else {
		q.log.Debug("task completed", fields...)
	}

	event := AuditEvent{
		ConnectionID: t.connID,
		TaskType:     t.req.Type,
		Command:      t.req.Command,
		ContextID:    t.req.ContextID,
		Force:        t.req.ForceRegenerate,
		QueueWaitMS:  start.Sub(t.enqueued).Milliseconds(),
		DurationMS:   elapsed.Milliseconds(),
		Success:      err == nil,
	}
	if err != nil {
		event.Error = err.Error()
	}
	if aerr := q.audit.LogEvent(event); aerr != nil {
		q.log.Warn("failed to write audit event", zap.Error(aerr))
	}
}
