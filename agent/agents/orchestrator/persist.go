package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
	statex "github.com/tanpawarit/chative-router/agent/state"
)

type persistJob struct {
	turn    statex.Turn
	session *statex.SessionState
	// barrier marks a flush point instead of a turn.
	barrier chan struct{}
}

// persister writes finalized turns. In async mode each session hashes to one
// worker, so turns of a session land in the order they were finalized.
type persister struct {
	memory  contractx.SessionMemory
	timeout time.Duration
	async   bool

	mu     sync.RWMutex
	closed bool
	queues []chan persistJob
	wg     sync.WaitGroup
}

func newPersister(memory contractx.SessionMemory, cfg Config) *persister {
	p := &persister{
		memory:  memory,
		timeout: cfg.PersistTimeout,
		async:   cfg.AsyncPersist,
	}
	if !p.async {
		return p
	}

	p.queues = make([]chan persistJob, cfg.PersistWorkers)
	for i := range p.queues {
		q := make(chan persistJob, cfg.PersistQueue)
		p.queues[i] = q
		p.wg.Add(1)
		go p.worker(q)
	}
	return p
}

func (p *persister) worker(q <-chan persistJob) {
	defer p.wg.Done()
	for job := range q {
		if job.barrier != nil {
			close(job.barrier)
			continue
		}
		p.run(context.Background(), job)
	}
}

// submit hands a turn over for persistence. It runs inline when async mode is
// off or the workers are already shut down.
func (p *persister) submit(ctx context.Context, turn statex.Turn, session *statex.SessionState) {
	job := persistJob{turn: turn, session: session}

	p.mu.RLock()
	if !p.async || p.closed {
		p.mu.RUnlock()
		p.run(ctx, job)
		return
	}
	p.queues[p.shard(turn.SessionID)] <- job
	p.mu.RUnlock()
}

func (p *persister) shard(sessionID string) int {
	return int(xxhash.Sum64String(sessionID) % uint64(len(p.queues)))
}

func (p *persister) run(ctx context.Context, job persistJob) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	l := log.With().
		Str("session_id", job.turn.SessionID).
		Str("turn_id", job.turn.TurnID).
		Logger()

	if err := p.memory.AppendTurn(ctx, job.turn); err != nil {
		l.Error().Err(err).Msg("turn persistence failed")
	}
	if job.session != nil {
		if err := p.memory.UpdateSessionState(ctx, job.session); err != nil {
			l.Error().Err(err).Msg("session refresh failed")
		}
	}
}

func (p *persister) flush(ctx context.Context) error {
	p.mu.RLock()
	if !p.async || p.closed {
		p.mu.RUnlock()
		return nil
	}
	barriers := make([]chan struct{}, 0, len(p.queues))
	for _, q := range p.queues {
		b := make(chan struct{})
		select {
		case q <- persistJob{barrier: b}:
			barriers = append(barriers, b)
		case <-ctx.Done():
			p.mu.RUnlock()
			return ctx.Err()
		}
	}
	p.mu.RUnlock()

	for _, b := range barriers {
		select {
		case <-b:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *persister) close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
