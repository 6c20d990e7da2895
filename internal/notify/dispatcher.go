// Package notify turns lifecycle transitions into mail deliveries.
//
// Enqueue only writes a job to the outbox, inside the caller's transaction
// when there is one; callers Wake the delivery loop after commit. Delivery
// runs on its own goroutines: pending jobs are sharded by project id so jobs of one project
// go out in the order they were enqueued. A failed job stays pending with an
// exponential backoff and holds back later jobs of the same project until it
// is due again; other projects keep flowing. Delivery is at-least-once.
package notify

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/3eLLenKa/reviewdesk/internal/domain"
)

type Outbox interface {
	Insert(ctx context.Context, job *domain.NotificationJob) error
	Pending(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, next time.Time, reason string) error
}

// Directory resolves recipients to mail addresses.
type Directory interface {
	GetByID(ctx context.Context, id string) (*domain.Reviewer, error)
}

type Config struct {
	Workers      int
	PollInterval time.Duration
	BatchSize    int
	RetryBackoff time.Duration
}

const maxRetryBackoff = time.Hour

type Dispatcher struct {
	log    *slog.Logger
	outbox Outbox
	dir    Directory
	mailer Mailer
	cfg    Config
	now    func() time.Time

	wake    chan struct{}
	flushMu sync.Mutex
}

func New(log *slog.Logger, outbox Outbox, dir Directory, mailer Mailer, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 30 * time.Second
	}

	return &Dispatcher{
		log:    log,
		outbox: outbox,
		dir:    dir,
		mailer: mailer,
		cfg:    cfg,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue records a notification request and returns its job id. It never
// waits for delivery.
func (d *Dispatcher) Enqueue(ctx context.Context, kind domain.NotificationKind, recipientID, projectID string) (string, error) {
	job := &domain.NotificationJob{
		ID:          uuid.NewString(),
		Kind:        kind,
		RecipientID: recipientID,
		ProjectID:   projectID,
		RequestedAt: d.now().UTC(),
	}

	if err := d.outbox.Insert(ctx, job); err != nil {
		return "", fmt.Errorf("notify.Enqueue: %w", err)
	}
	return job.ID, nil
}

// Wake schedules a delivery pass without blocking.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run delivers pending jobs until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.log.Info("notify.Run: dispatcher started", slog.Int("workers", d.cfg.Workers), slog.Duration("poll_interval", d.cfg.PollInterval))

	for {
		if _, err := d.Flush(ctx); err != nil && ctx.Err() == nil {
			d.log.Error("notify.Run: delivery pass failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			d.log.Info("notify.Run: dispatcher stopped")
			return
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// Flush runs one delivery pass over at most BatchSize pending jobs and
// returns how many were delivered.
func (d *Dispatcher) Flush(ctx context.Context) (int, error) {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	jobs, err := d.outbox.Pending(ctx, d.now().UTC(), d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("notify.Flush: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	shards := make([][]domain.NotificationJob, d.cfg.Workers)
	for _, j := range jobs {
		i := shardOf(j.ProjectID, d.cfg.Workers)
		shards[i] = append(shards[i], j)
	}

	var delivered atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, batch := range shards {
		if len(batch) == 0 {
			continue
		}
		batch := batch
		g.Go(func() error {
			n, err := d.deliverShard(gctx, batch)
			delivered.Add(int64(n))
			return err
		})
	}

	err = g.Wait()
	return int(delivered.Load()), err
}

func (d *Dispatcher) deliverShard(ctx context.Context, jobs []domain.NotificationJob) (int, error) {
	blocked := make(map[string]bool)
	delivered := 0

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if blocked[job.ProjectID] {
			continue
		}

		if err := d.deliver(ctx, job); err != nil {
			if !errors.Is(err, ErrUndeliverable) {
				blocked[job.ProjectID] = true
				next := d.now().UTC().Add(d.backoff(job.Attempts))
				d.log.Warn("notify.deliver: delivery failed, will retry",
					slog.String("job_id", job.ID),
					slog.String("project_id", job.ProjectID),
					slog.String("kind", string(job.Kind)),
					slog.Int("attempt", job.Attempts+1),
					slog.Time("next_attempt_at", next),
					slog.Any("error", err),
				)
				if err := d.outbox.MarkFailed(ctx, job.ID, next, err.Error()); err != nil {
					d.log.Error("notify.deliver: failed to defer job", slog.String("job_id", job.ID), slog.Any("error", err))
				}
				continue
			}
			d.log.Error("notify.deliver: dropping undeliverable job",
				slog.String("job_id", job.ID),
				slog.String("recipient_id", job.RecipientID),
				slog.Any("error", err),
			)
		}

		if err := d.outbox.MarkDelivered(ctx, job.ID, d.now().UTC()); err != nil {
			blocked[job.ProjectID] = true
			d.log.Error("notify.deliver: failed to mark job delivered", slog.String("job_id", job.ID), slog.Any("error", err))
			continue
		}
		delivered++
	}

	return delivered, nil
}

func (d *Dispatcher) deliver(ctx context.Context, job domain.NotificationJob) error {
	recipient, err := d.dir.GetByID(ctx, job.RecipientID)
	if errors.Is(err, domain.ErrReviewerNotFound) {
		return fmt.Errorf("%w: recipient %s does not exist", ErrUndeliverable, job.RecipientID)
	}
	if err != nil {
		return err
	}

	return d.mailer.Send(ctx, Compose(job, recipient))
}

// backoff doubles the base delay per earlier attempt, up to an hour.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.cfg.RetryBackoff
	for i := 0; i < attempts && delay < maxRetryBackoff; i++ {
		delay *= 2
	}
	return min(delay, maxRetryBackoff)
}

func shardOf(projectID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(projectID))
	return int(h.Sum32() % uint32(n))
}
