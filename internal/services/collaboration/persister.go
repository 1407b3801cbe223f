package collaboration

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"
)

const (
	// Every trimEvery-th accepted update triggers a log trim down to
	// keepUpdates rows. The flattened content column is authoritative, the
	// log is provenance, so losing old rows is harmless.
	trimEvery   = 64
	keepUpdates = 512

	persistTimeout = 10 * time.Second
)

// DocumentWriter is the slice of the document repository the persister
// needs: overwrite content, nothing else.
type DocumentWriter interface {
	UpdateContent(ctx context.Context, id string, content string) error
}

// UpdateLog is the write side of the update log.
type UpdateLog interface {
	Append(ctx context.Context, documentID, userID string, payload []byte, version int64) error
	Trim(ctx context.Context, documentID string, keepCount int) error
}

// UpdateJob is one accepted edit to persist: the full flattened text plus
// the raw frame for the log.
type UpdateJob struct {
	DocumentID string
	UserID     string
	Text       string
	Payload    []byte
	Version    int64
}

// Persister is the relay's write-behind pool. Jobs are partitioned across
// workers by document id, so one document's writes land in order while
// different documents persist in parallel. Failures are logged and dropped:
// the live room text is the source of truth and the next edit writes the
// whole text again.
type Persister struct {
	docs    DocumentWriter
	updates UpdateLog

	queues []chan UpdateJob
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPersister creates the pool without starting it. updates may be nil to
// skip the log and persist content only.
func NewPersister(docs DocumentWriter, updates UpdateLog, numWorkers, queueSize int) *Persister {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	queues := make([]chan UpdateJob, numWorkers)
	for i := range queues {
		queues[i] = make(chan UpdateJob, queueSize)
	}

	return &Persister{
		docs:    docs,
		updates: updates,
		queues:  queues,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start spawns the workers.
func (p *Persister) Start() {
	log.Printf("🔧 Starting persistence pool with %d workers", len(p.queues))

	for i := range p.queues {
		p.wg.Add(1)
		go p.worker(i)
	}

	log.Println("✓ Persistence pool started")
}

func (p *Persister) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return

		case job, ok := <-p.queues[id]:
			if !ok {
				return
			}
			if err := p.process(job); err != nil {
				log.Printf("  Persist worker %d: document %s: %v", id, job.DocumentID, err)
			}
		}
	}
}

// Submit queues a job on its document's partition. Never blocks: a full
// partition returns an error and the caller drops the job.
func (p *Persister) Submit(job UpdateJob) error {
	queue := p.queues[p.partition(job.DocumentID)]

	select {
	case queue <- job:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("persister is shutting down")
	default:
		return fmt.Errorf("persistence queue full")
	}
}

func (p *Persister) process(job UpdateJob) error {
	ctx, cancel := context.WithTimeout(p.ctx, persistTimeout)
	defer cancel()

	if err := p.docs.UpdateContent(ctx, job.DocumentID, job.Text); err != nil {
		return fmt.Errorf("failed to persist content: %w", err)
	}

	if p.updates == nil {
		return nil
	}

	if err := p.updates.Append(ctx, job.DocumentID, job.UserID, job.Payload, job.Version); err != nil {
		return fmt.Errorf("failed to append update log: %w", err)
	}

	if job.Version%trimEvery == 0 {
		if err := p.updates.Trim(ctx, job.DocumentID, keepUpdates); err != nil {
			return fmt.Errorf("failed to trim update log: %w", err)
		}
	}

	return nil
}

// QueueLength reports the number of pending jobs across all partitions.
func (p *Persister) QueueLength() int {
	total := 0
	for _, q := range p.queues {
		total += len(q)
	}
	return total
}

// Shutdown drains the queues, waits for the workers, then releases the
// pool's context. Queued jobs are flushed, not dropped.
func (p *Persister) Shutdown() {
	log.Println("🛑 Shutting down persistence pool...")

	for _, q := range p.queues {
		close(q)
	}
	p.wg.Wait()
	p.cancel()

	log.Println("✓ Persistence pool shutdown complete")
}

func (p *Persister) partition(documentID string) int {
	h := fnv.New32a()
	h.Write([]byte(documentID))
	return int(h.Sum32() % uint32(len(p.queues)))
}
