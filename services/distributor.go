package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"booking-scraper/models"
	"booking-scraper/scraper"
	"booking-scraper/storage"
	"booking-scraper/utils"
)

// RecordBuilder turns one URL into one record. *Builder implements it.
type RecordBuilder interface {
	Build(ctx context.Context, page scraper.Page, url string) (*models.Record, error)
}

// Chunk is the slice of URLs one worker owns, in processing order.
type Chunk struct {
	Worker int
	URLs   []string
}

// Partition splits urls into min(n, len(urls)) contiguous chunks of
// len(urls)/n URLs each; the last chunk also takes the remainder.
func Partition(urls []string, n int) []Chunk {
	m := len(urls)
	if m == 0 {
		return nil
	}
	n = max(1, min(n, m))
	size := m / n

	chunks := make([]Chunk, 0, n)
	for i := 0; i < n; i++ {
		end := (i + 1) * size
		if i == n-1 {
			end = m
		}
		chunks = append(chunks, Chunk{Worker: i, URLs: urls[i*size : end]})
	}
	return chunks
}

// BatchReport is what a worker tells the supervisor after each flush: the
// counts since its previous report.
type BatchReport struct {
	Worker    int
	Processed int
	Persisted int
	Lost      int
}

// DistributorOptions configures a Distributor.
type DistributorOptions struct {
	BatchSize int
	PaceMin   time.Duration
	PaceMax   time.Duration
	// OnReport is called from worker goroutines and must be safe for
	// concurrent use.
	OnReport func(BatchReport)
}

// Distributor runs chunks on concurrent workers, each with its own session.
type Distributor struct {
	factory scraper.SessionFactory
	builder RecordBuilder
	writer  storage.BatchWriter
	opts    DistributorOptions
	logger  *utils.Logger
}

func NewDistributor(factory scraper.SessionFactory, builder RecordBuilder, writer storage.BatchWriter, opts DistributorOptions, logger *utils.Logger) *Distributor {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Distributor{factory: factory, builder: builder, writer: writer, opts: opts, logger: logger}
}

// Run starts one worker per chunk and waits for all of them. A worker's
// failure never stops its siblings; it only shows in that worker's outcome.
func (d *Distributor) Run(ctx context.Context, chunks []Chunk) []models.WorkerOutcome {
	outcomes := make([]models.WorkerOutcome, len(chunks))

	var g errgroup.Group
	for i, c := range chunks {
		if len(c.URLs) == 0 {
			outcomes[i] = models.WorkerOutcome{Worker: c.Worker}
			continue
		}
		g.Go(func() error {
			outcomes[i] = d.work(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (d *Distributor) work(ctx context.Context, chunk Chunk) (out models.WorkerOutcome) {
	out = models.WorkerOutcome{Worker: chunk.Worker, Assigned: len(chunk.URLs)}
	log := d.logger.With("worker", chunk.Worker)

	page, err := d.factory(ctx)
	if err != nil {
		out.Err = utils.NewError(utils.KindSetup, "open-session", "", err)
		log.Error("[worker] could not open a session: %v", err)
		return out
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Debug("[worker] closing session: %v", err)
		}
	}()

	log.Info("[worker] starting on %d urls", len(chunk.URLs))
	pacer := utils.NewPacer(d.opts.PaceMin, d.opts.PaceMax)

	var (
		batch    []*models.Record
		reported models.WorkerOutcome
	)
	flush := func() {
		if len(batch) > 0 {
			// The final flush must survive the cancellation that ended the loop.
			err := d.writer.WriteBatch(context.WithoutCancel(ctx), batch)
			if err != nil {
				out.Lost += len(batch)
				log.Error("[worker] batch of %d lost: %v", len(batch), err)
			} else {
				out.Persisted += len(batch)
				log.Info("[worker] flushed %d records (%d/%d processed)", len(batch), out.Processed, out.Assigned)
			}
			batch = nil
		}
		if d.opts.OnReport != nil && out.Processed > reported.Processed {
			d.opts.OnReport(BatchReport{
				Worker:    chunk.Worker,
				Processed: out.Processed - reported.Processed,
				Persisted: out.Persisted - reported.Persisted,
				Lost:      out.Lost - reported.Lost,
			})
			reported = out
		}
	}

	for i, url := range chunk.URLs {
		if ctx.Err() != nil {
			out.Interrupted = true
			break
		}
		if i > 0 {
			if err := pacer.Wait(ctx); err != nil {
				out.Interrupted = true
				break
			}
		}

		rec, err := d.build(ctx, page, url)
		if err != nil && ctx.Err() != nil {
			out.Interrupted = true
			break
		}
		out.Processed++

		stop := false
		switch {
		case err == nil:
			out.Accepted++
			batch = append(batch, rec)
		case errors.Is(err, ErrRejected):
			out.Rejected++
			log.Debug("[worker] %v", err)
		case errors.Is(err, utils.ErrSessionLost):
			out.Failed++
			out.Err = utils.NewError(utils.KindWorker, "session", url, err)
			log.Error("[worker] session lost at %s, stopping early", url)
			stop = true
		default:
			out.Failed++
			log.Warn("[worker] %s failed: %v", url, err)
		}

		if len(batch) >= d.opts.BatchSize {
			flush()
		}
		if stop {
			break
		}
	}
	flush()

	if out.Interrupted {
		log.Warn("[worker] interrupted after %d/%d urls", out.Processed, out.Assigned)
	} else {
		log.Info("[worker] done: %d accepted, %d rejected, %d failed", out.Accepted, out.Rejected, out.Failed)
	}
	return out
}

// build runs the builder, turning a panic into a per-URL failure.
func (d *Distributor) build(ctx context.Context, page scraper.Page, url string) (rec *models.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = utils.NewError(utils.KindWorker, "build", url, fmt.Errorf("panic: %v", r))
		}
	}()
	return d.builder.Build(ctx, page, url)
}
