package printq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ragefit/pos/internal/domain"
	"ragefit/pos/internal/events"
	"ragefit/pos/internal/printer"
	"ragefit/pos/internal/xid"
)

const TableJobs = "print_jobs"

var ErrQueueClosed = errors.New("print queue closed")

const (
	DefaultDelay = 500 * time.Millisecond
	// NoDelay turns off the pause between writes.
	NoDelay        time.Duration = -1
	journalTimeout               = 3 * time.Second
)

type Options struct {
	// Delay separates successive writes so the printer can settle. Zero
	// means DefaultDelay; a negative value means no pause.
	Delay     time.Duration
	Journal   Journal
	Publisher events.Publisher
	Logger    zerolog.Logger
}

// Queue is a FIFO of print jobs drained by a single worker. A job that
// fails stays at the front and blocks everything behind it until
// RetryFailedJobs or ClearQueue is called. While no printer is connected
// jobs wait in Queued; SetTransport resumes draining.
type Queue struct {
	mu        sync.Mutex
	jobs      []domain.PrintJob
	transport printer.Transport
	running   bool
	closed    bool

	delay   time.Duration
	journal Journal
	pub     events.Publisher
	log     zerolog.Logger

	stop   chan struct{}
	dirty  chan struct{}
	wg     sync.WaitGroup
	saveWG sync.WaitGroup
}

func New(opts Options) *Queue {
	if opts.Journal == nil {
		opts.Journal = NoopJournal{}
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NoopPublisher{}
	}
	switch {
	case opts.Delay == 0:
		opts.Delay = DefaultDelay
	case opts.Delay < 0:
		opts.Delay = 0
	}
	q := &Queue{
		delay:   opts.Delay,
		journal: opts.Journal,
		pub:     opts.Publisher,
		log:     opts.Logger,
		stop:    make(chan struct{}),
		dirty:   make(chan struct{}, 1),
	}
	q.saveWG.Add(1)
	go q.saver()
	return q
}

// Restore loads journaled jobs. A job that was mid-print when the process
// stopped is marked Failed because its outcome is unknown.
func (q *Queue) Restore(ctx context.Context) error {
	jobs, err := q.journal.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore print queue: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range jobs {
		if job.Status == domain.PrintJobPrinting {
			job.Status = domain.PrintJobFailed
			job.LastError = "interrupted before completion"
		}
		q.jobs = append(q.jobs, job)
	}
	if len(jobs) > 0 {
		q.log.Info().Int("jobs", len(jobs)).Msg("print queue restored")
	}
	q.kickLocked()
	return nil
}

// SetTransport swaps the printer used for subsequent writes. A nil
// transport means disconnected.
func (q *Queue) SetTransport(t printer.Transport) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.transport = t
	if t != nil {
		q.kickLocked()
	}
}

func (q *Queue) Connected() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.transport != nil
}

// Enqueue appends a job and starts the worker if idle. It never waits on
// the printer.
func (q *Queue) Enqueue(payload []byte, label string) (domain.PrintJob, error) {
	job := domain.PrintJob{
		ID:        xid.New("job"),
		Label:     label,
		Payload:   append([]byte(nil), payload...),
		Status:    domain.PrintJobQueued,
		CreatedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return domain.PrintJob{}, ErrQueueClosed
	}
	q.jobs = append(q.jobs, job)
	q.kickLocked()
	q.mu.Unlock()

	q.changed(events.OpAdd, job.ID)
	return job.Clone(), nil
}

// RetryFailedJobs moves every Failed job back to Queued and resumes
// draining. It returns how many jobs were reset.
func (q *Queue) RetryFailedJobs() int {
	q.mu.Lock()
	reset := 0
	for i := range q.jobs {
		if q.jobs[i].Status == domain.PrintJobFailed {
			q.jobs[i].Status = domain.PrintJobQueued
			q.jobs[i].LastError = ""
			reset++
		}
	}
	q.kickLocked()
	q.mu.Unlock()

	if reset > 0 {
		q.changed(events.OpPut, "")
	}
	return reset
}

// ClearQueue drops every job that is not currently printing.
func (q *Queue) ClearQueue() int {
	q.mu.Lock()
	kept := q.jobs[:0]
	dropped := 0
	for _, job := range q.jobs {
		if job.Status == domain.PrintJobPrinting {
			kept = append(kept, job)
			continue
		}
		dropped++
	}
	q.jobs = kept
	q.mu.Unlock()

	if dropped > 0 {
		q.changed(events.OpDelete, "")
	}
	return dropped
}

// Jobs returns a snapshot of the queue, front first.
func (q *Queue) Jobs() []domain.PrintJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.PrintJob, len(q.jobs))
	for i, job := range q.jobs {
		out[i] = job.Clone()
	}
	return out
}

// Close stops accepting jobs, waits for any in-flight write, and flushes
// the journal. Pending jobs stay journaled.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.stop)
	q.mu.Unlock()

	q.wg.Wait()
	q.saveWG.Wait()
	return q.save()
}

func (q *Queue) kickLocked() {
	if q.running || q.closed || q.transport == nil || len(q.jobs) == 0 || q.jobs[0].Status != domain.PrintJobQueued {
		return
	}
	q.running = true
	q.wg.Add(1)
	go q.drain()
}

func (q *Queue) drain() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if q.closed || q.transport == nil || len(q.jobs) == 0 || q.jobs[0].Status != domain.PrintJobQueued {
			q.running = false
			q.mu.Unlock()
			return
		}
		q.jobs[0].Status = domain.PrintJobPrinting
		q.jobs[0].Attempts++
		job := q.jobs[0].Clone()
		transport := q.transport
		q.mu.Unlock()
		q.changed(events.OpPut, job.ID)

		err := transport.Write(context.Background(), job.Payload)

		q.mu.Lock()
		idx := q.indexLocked(job.ID)
		if err != nil {
			if idx >= 0 {
				q.jobs[idx].Status = domain.PrintJobFailed
				q.jobs[idx].LastError = err.Error()
			}
			q.running = false
			q.mu.Unlock()
			q.log.Warn().Err(err).Str("job_id", job.ID).Str("label", job.Label).Int("attempts", job.Attempts).Msg("print job failed, queue blocked until retry")
			q.changed(events.OpPut, job.ID)
			return
		}
		if idx >= 0 {
			q.jobs = append(q.jobs[:idx], q.jobs[idx+1:]...)
		}
		q.mu.Unlock()
		q.log.Info().Str("job_id", job.ID).Str("label", job.Label).Str("status", domain.PrintJobCompleted).Msg("print job completed")
		q.changed(events.OpDelete, job.ID)

		if q.delay > 0 {
			select {
			case <-time.After(q.delay):
			case <-q.stop:
			}
		}
	}
}

func (q *Queue) indexLocked(id string) int {
	for i := range q.jobs {
		if q.jobs[i].ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) changed(op string, id string) {
	select {
	case q.dirty <- struct{}{}:
	default:
	}
	q.pub.Publish(context.Background(), events.Change{Table: TableJobs, Op: op, ID: id, At: time.Now().UTC()})
}

func (q *Queue) saver() {
	defer q.saveWG.Done()
	for {
		select {
		case <-q.dirty:
			if err := q.save(); err != nil {
				q.log.Warn().Err(err).Msg("print journal save failed")
			}
		case <-q.stop:
			return
		}
	}
}

func (q *Queue) save() error {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	return q.journal.Save(ctx, q.Jobs())
}
