// Package worker provides the bounded task pool used for background record
// analysis. Tasks are submitted under a key (the record ID) and hashed to a
// fixed shard, so all tasks for one record run on the same goroutine in
// submission order. That gives single-writer-per-record semantics without a
// per-record mutex: concurrent regeneration requests for the same record
// serialize instead of racing.
package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"
)

// Task is a unit of background work. The context is the pool's lifetime
// context; started tasks are not cancelled individually and run to
// completion or failure.
type Task func(ctx context.Context)

// Pool runs keyed tasks on a fixed set of shard workers.
type Pool struct {
	shards []chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewPool starts workers goroutines, each with a queue of depth slots.
// Both values are clamped to at least 1.
func NewPool(workers, depth int, logger zerolog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		shards: make([]chan Task, workers),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	for i := range p.shards {
		p.shards[i] = make(chan Task, depth)
		p.wg.Add(1)
		go p.run(p.shards[i])
	}

	logger.Info().Int("workers", workers).Int("queue_depth", depth).Msg("analysis worker pool started")
	return p
}

func (p *Pool) run(queue chan Task) {
	defer p.wg.Done()
	for task := range queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error().Interface("panic", r).Msg("background task panicked")
				}
			}()
			task(p.ctx)
		}()
	}
}

// Submit enqueues a task on the shard owned by key. It returns an error
// when the shard queue is full or the pool is shut down; callers decide
// how to surface the rejection (e.g. mark the record's analysis failed).
func (p *Pool) Submit(key string, task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("worker pool: shut down")
	}

	queue := p.shards[shardFor(key, len(p.shards))]
	select {
	case queue <- task:
		return nil
	default:
		return fmt.Errorf("worker pool: queue full for key %s", key)
	}
}

// Shutdown stops accepting work and drains queued tasks. Already-started
// tasks run to completion.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, queue := range p.shards {
		close(queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	p.logger.Info().Msg("analysis worker pool drained")
}

func shardFor(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
