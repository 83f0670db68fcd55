package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/delimload/internal/config"
	"github.com/JonMunkholm/delimload/internal/delimited"
	"github.com/JonMunkholm/delimload/internal/logging"
	"github.com/JonMunkholm/delimload/internal/store"
)

// ContextCheckInterval is how many records are read between cancellation
// checks.
const ContextCheckInterval = 100

// progressInterval is how many records are read between progress reports.
const progressInterval = 250

// summaryTimeout bounds the write of the ingest summary after the ingest
// itself has ended, possibly with a cancelled context.
const summaryTimeout = 5 * time.Second

// DocumentStore is the persistence the service needs. *store.Store
// implements it.
type DocumentStore interface {
	WriteBatch(ctx context.Context, ingestID uuid.UUID, docs []store.Document) (int64, error)
	DeleteByIngest(ctx context.Context, ingestID uuid.UUID) (int64, error)
	SaveIngest(ctx context.Context, rec store.IngestRecord) error
}

// Request is one file to ingest.
type Request struct {
	FileName string
	Body     io.Reader // Closed when done if it is an io.Closer
	Size     int64     // Total bytes, <= 0 if unknown
	Job      Job       // Overrides the configured job field by field
}

// Service runs ingests and tracks the ones started in the background.
type Service struct {
	store   DocumentStore
	cfg     config.IngestConfig
	limiter *Limiter

	mu      sync.RWMutex
	ingests map[uuid.UUID]*activeIngest
}

type activeIngest struct {
	id     uuid.UUID
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	progress Progress
	result   *Result
}

func (a *activeIngest) snapshot() Progress {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.progress
}

func (a *activeIngest) update(p Progress) {
	a.mu.Lock()
	a.progress = p
	a.mu.Unlock()
}

func (a *activeIngest) finish(res *Result) {
	a.mu.Lock()
	a.result = res
	a.mu.Unlock()
	close(a.done)
}

// NewService creates a Service writing to st.
func NewService(st DocumentStore, cfg config.IngestConfig) *Service {
	return &Service{
		store:   st,
		cfg:     cfg,
		limiter: NewLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		ingests: make(map[uuid.UUID]*activeIngest),
	}
}

// Limiter exposes the concurrency limiter for status reporting and
// shutdown.
func (s *Service) Limiter() *Limiter {
	return s.limiter
}

// job returns the configured job with req's overrides applied.
func (s *Service) job(req Request) Job {
	return JobFromConfig(s.cfg).Merge(req.Job)
}

// Start validates req, takes an ingest slot and processes the file in the
// background. It returns as soon as the ingest is registered. Invalid job
// settings are reported here, before a slot is used. Returns
// ErrTooManyIngests if no slot frees up in time.
func (s *Service) Start(ctx context.Context, req Request) (uuid.UUID, error) {
	job := s.job(req)
	if err := job.Validate(); err != nil {
		closeBody(req.Body)
		return uuid.Nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		closeBody(req.Body)
		return uuid.Nil, err
	}

	id := uuid.New()
	log := logging.ForIngest(ctx, id.String(), req.FileName)

	rd, err := job.Open(req.Body, req.Size, log)
	if err != nil {
		s.limiter.Release()
		return uuid.Nil, err
	}

	runCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	ing := &activeIngest{
		id:     id,
		cancel: cancel,
		done:   make(chan struct{}),
		progress: Progress{
			IngestID: id,
			FileName: req.FileName,
			Phase:    PhaseStarting,
		},
	}

	s.mu.Lock()
	s.ingests[id] = ing
	s.mu.Unlock()

	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in ingest", "panic", r)
				rd.Close()
				p := ing.snapshot()
				p.Phase = PhaseFailed
				p.Error = fmt.Sprintf("internal error: %v", r)
				ing.update(p)
				ing.finish(&Result{IngestID: id, FileName: req.FileName, Phase: PhaseFailed, Error: p.Error})
				s.cleanup(id)
			}
		}()

		res, _ := s.execute(runCtx, id, req.FileName, job, rd, log, ing.update)
		ing.finish(res)
		s.cleanup(id)
	}()

	log.Info("ingest started", "size", req.Size, "delimiter", job.Delimiter, "id_column", job.IDColumn)
	return id, nil
}

// Run processes req synchronously, calling onProgress periodically. It
// does not use an ingest slot. The returned error is the fatal error that
// ended the ingest, if any; the Result is returned in both cases.
func (s *Service) Run(ctx context.Context, req Request, onProgress ProgressCallback) (*Result, error) {
	job := s.job(req)
	if err := job.Validate(); err != nil {
		closeBody(req.Body)
		return nil, err
	}

	id := uuid.New()
	log := logging.ForIngest(ctx, id.String(), req.FileName)

	rd, err := job.Open(req.Body, req.Size, log)
	if err != nil {
		return nil, err
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	report := func(Progress) {}
	if onProgress != nil {
		report = onProgress
	}

	return s.execute(ctx, id, req.FileName, job, rd, log, report)
}

// execute drains rd into the store and returns the result together with
// the error that ended it early, if any. It always closes rd.
func (s *Service) execute(ctx context.Context, id uuid.UUID, fileName string, job Job, rd *delimited.Reader, log *slog.Logger, report func(Progress)) (*Result, error) {
	start := time.Now()
	defer rd.Close()

	res := &Result{
		IngestID: id,
		FileName: fileName,
		Phase:    PhaseParsing,
		IDColumn: job.IDColumn,
	}
	progress := func() Progress {
		return Progress{
			IngestID: id,
			FileName: fileName,
			Phase:    res.Phase,
			Records:  res.Records,
			Valid:    res.Valid,
			Invalid:  res.Invalid,
			Written:  res.Written,
			Fraction: rd.Progress(),
			Error:    res.Error,
		}
	}

	end := func(phase Phase, err error) (*Result, error) {
		res.Phase = phase
		if err != nil {
			res.Error = err.Error()
		}
		res.Duration = time.Since(start)
		report(progress())
		s.saveSummary(log, res)

		switch phase {
		case PhaseComplete:
			log.Info("ingest completed",
				"records", res.Records, "written", res.Written,
				"invalid", res.Invalid, "duration", res.Duration)
		case PhaseCancelled:
			log.Info("ingest cancelled", "records", res.Records, "written", res.Written)
		default:
			log.Error("ingest failed", "error", err, "records", res.Records, "written", res.Written)
		}
		return res, err
	}

	report(progress())

	if err := rd.Init(); err != nil {
		return end(PhaseFailed, err)
	}
	res.Header = rd.Header()
	if idx := rd.IDColumn(); idx >= 0 && res.IDColumn == "" {
		res.IDColumn = res.Header[idx]
	}

	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	batch := make([]store.Document, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.store.WriteBatch(ctx, id, batch)
		if err != nil {
			return fmt.Errorf("write batch: %w", err)
		}
		res.Written += n
		batch = batch[:0]
		return nil
	}

	// stopped reports how the ingest ends when ctx is done, or "" while
	// it may continue.
	stopped := func() (Phase, error) {
		switch err := ctx.Err(); {
		case err == nil:
			return "", nil
		case errors.Is(err, context.Canceled):
			return PhaseCancelled, ErrCancelled
		default:
			return PhaseFailed, fmt.Errorf("ingest timed out: %w", err)
		}
	}

	for {
		if res.Records%ContextCheckInterval == 0 {
			if phase, err := stopped(); phase != "" {
				return end(phase, err)
			}
		}

		rec, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return end(PhaseFailed, err)
		}
		res.Records++

		switch r := rec.(type) {
		case delimited.Valid:
			res.Valid++
			doc := store.Document{URI: r.Key, SourceFile: fileName}
			if err := r.Fill(&doc); err != nil {
				return end(PhaseFailed, err)
			}
			batch = append(batch, doc)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					if phase, cerr := stopped(); phase != "" {
						return end(phase, cerr)
					}
					return end(PhaseFailed, err)
				}
			}
		case delimited.Invalid:
			res.Invalid++
			if len(res.FailedRows) < s.cfg.MaxFailedRows {
				res.FailedRows = append(res.FailedRows, FailedRow{
					Line:   r.Line,
					Reason: r.Reason.Error(),
					Text:   r.Text,
				})
			} else {
				res.Truncated = true
			}
		}

		if res.Records%progressInterval == 0 {
			report(progress())
		}
	}

	if err := flush(); err != nil {
		if phase, cerr := stopped(); phase != "" {
			return end(phase, cerr)
		}
		return end(PhaseFailed, err)
	}
	return end(PhaseComplete, nil)
}

func (s *Service) saveSummary(log *slog.Logger, res *Result) {
	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
	defer cancel()

	err := s.store.SaveIngest(ctx, store.IngestRecord{
		ID:         res.IngestID,
		FileName:   res.FileName,
		Header:     res.Header,
		IDColumn:   res.IDColumn,
		Rows:       res.Records,
		Inserted:   int(res.Written),
		Invalid:    res.Invalid,
		Status:     string(res.Phase),
		Error:      res.Error,
		DurationMs: res.Duration.Milliseconds(),
	})
	if err != nil {
		log.Warn("failed to save ingest summary", "error", err)
	}
}

func (s *Service) lookup(id uuid.UUID) (*activeIngest, error) {
	s.mu.RLock()
	ing, ok := s.ingests[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIngestNotFound, id)
	}
	return ing, nil
}

// Status returns the latest progress of a tracked ingest.
func (s *Service) Status(id uuid.UUID) (Progress, error) {
	ing, err := s.lookup(id)
	if err != nil {
		return Progress{}, err
	}
	return ing.snapshot(), nil
}

// Result returns the outcome of a tracked ingest without blocking.
// It returns ErrIngestRunning while the ingest is still in progress.
func (s *Service) Result(id uuid.UUID) (*Result, error) {
	ing, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	select {
	case <-ing.done:
		ing.mu.Lock()
		defer ing.mu.Unlock()
		return ing.result, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrIngestRunning, id)
	}
}

// Wait blocks until a tracked ingest finishes or ctx ends.
func (s *Service) Wait(ctx context.Context, id uuid.UUID) (*Result, error) {
	ing, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	select {
	case <-ing.done:
		ing.mu.Lock()
		defer ing.mu.Unlock()
		return ing.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel stops a running ingest. Documents already written stay stored;
// use Rollback to remove them. Cancelling a finished ingest is a no-op.
func (s *Service) Cancel(id uuid.UUID) error {
	ing, err := s.lookup(id)
	if err != nil {
		return err
	}
	ing.cancel()
	return nil
}

// Rollback deletes every document last written by the ingest. A tracked
// ingest must have finished first; untracked IDs are passed to the store
// as is, so older ingests can be rolled back too.
func (s *Service) Rollback(ctx context.Context, id uuid.UUID) (int64, error) {
	if ing, err := s.lookup(id); err == nil {
		select {
		case <-ing.done:
		default:
			return 0, fmt.Errorf("%w: %s", ErrIngestRunning, id)
		}
	}

	n, err := s.store.DeleteByIngest(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("rollback %s: %w", id, err)
	}
	logging.FromContext(ctx).Info("ingest rolled back", "ingest_id", id, "deleted", n)
	return n, nil
}

// Drain blocks until every background ingest has finished or ctx ends.
func (s *Service) Drain(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// CancelAll cancels every tracked ingest.
func (s *Service) CancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ing := range s.ingests {
		ing.cancel()
	}
}

// cleanup forgets a finished ingest after the retention period.
func (s *Service) cleanup(id uuid.UUID) {
	time.AfterFunc(s.cfg.Retention, func() {
		s.mu.Lock()
		delete(s.ingests, id)
		s.mu.Unlock()
	})
}

func closeBody(r io.Reader) {
	if c, ok := r.(io.Closer); ok {
		c.Close()
	}
}
