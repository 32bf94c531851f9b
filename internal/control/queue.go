package control

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/sideband-filter/internal/filter"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

type job struct {
	req   filter.Request
	reply chan result // buffered, capacity 1
}

type result struct {
	resp filter.Response
	err  error
}

// queue is a sequential request queue: one worker completes requests one at
// a time, in arrival order.
type queue struct {
	channelID string
	handler   filter.QueryHandler
	jobs      chan job
	done      *closeOnce
	logger    Logger

	processed atomic.Uint64
	rejected  atomic.Uint64
}

func newQueue(channelID string, handler filter.QueryHandler, depth int, logger Logger) *queue {
	return &queue{
		channelID: channelID,
		handler:   handler,
		jobs:      make(chan job, depth),
		done:      newCloseOnce(),
		logger:    logger,
	}
}

// start launches the worker, tracked by wg.
func (q *queue) start(wg *sync.WaitGroup) {
	wg.Add(1)
	go q.worker(wg)
}

// stop signals the worker to exit. It does not wait.
func (q *queue) stop() {
	q.done.Close()
}

// submit enqueues req and waits for its completion, the queue stopping, or
// ctx expiring.
func (q *queue) submit(ctx context.Context, req filter.Request) (filter.Response, error) {
	select {
	case <-q.done.Done():
		return deletedResponse(), ErrChannelDeleted
	default:
	}

	j := job{req: req, reply: make(chan result, 1)}
	select {
	case q.jobs <- j:
	default:
		q.rejected.Add(1)
		return filter.Response{}, ErrQueueFull
	}

	select {
	case r := <-j.reply:
		return r.resp, r.err
	case <-q.done.Done():
		return deletedResponse(), ErrChannelDeleted
	case <-ctx.Done():
		return filter.Response{}, fmt.Errorf("waiting for request completion: %w", ctx.Err())
	}
}

func (q *queue) worker(wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-q.done.Done():
			q.drain()
			return
		case j := <-q.jobs:
			j.reply <- q.process(j.req)
		}
	}
}

// process runs one request through the handler, converting panics into a
// failed completion so the worker keeps running.
func (q *queue) process(req filter.Request) (r result) {
	defer func() {
		if rec := recover(); rec != nil {
			q.logger.Error("control request handler panic", "channel_id", q.channelID, "panic", rec)
			r = result{resp: filter.Response{Status: filter.StatusInvalidParameter}, err: fmt.Errorf("handler panic: %v", rec)}
		}
	}()

	resp, err := q.handler.HandleQuery(q.channelID, req)
	q.processed.Add(1)
	return result{resp: resp, err: err}
}

// drain completes every queued request as deleted.
func (q *queue) drain() {
	for {
		select {
		case j := <-q.jobs:
			j.reply <- result{resp: deletedResponse(), err: ErrChannelDeleted}
		default:
			return
		}
	}
}

func deletedResponse() filter.Response {
	return filter.Response{Status: filter.StatusChannelDeleted}
}
