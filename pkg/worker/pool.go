package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kacperjurak/goimpfit/pkg/config"
	"github.com/kacperjurak/goimpfit/pkg/models"
)

// Pool manages concurrent EIS processing workers
type Pool struct {
	jobs         chan models.WorkItem
	results      chan models.WorkResult
	webhookQueue chan models.WebhookItem
	workers      int
	bufferPool   sync.Pool
	shutdown     chan struct{}
	wg           sync.WaitGroup
	webhookWG    sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	processor    ProcessorFunc
	sender       SenderFunc
	logger       *slog.Logger
}

// ProcessorFunc defines the signature for EIS data processing
type ProcessorFunc func(ctx context.Context, freqs []float64, impData [][2]float64, cfg *config.Config) (*models.Report, error)

// SenderFunc delivers one webhook.
type SenderFunc func(ctx context.Context, item models.WebhookItem) error

// Options holds configuration for creating a new worker pool
type Options struct {
	Workers   int
	Processor ProcessorFunc
	Sender    SenderFunc
	Logger    *slog.Logger
}

// bufferSet holds reusable real/imag buffers.
type bufferSet struct {
	Real []float64
	Imag []float64
}

// New creates a new worker pool with specified configuration
func New(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())

	// buffered so submitting does not block while workers are busy
	pool := &Pool{
		jobs:         make(chan models.WorkItem, opts.Workers*2),
		results:      make(chan models.WorkResult, opts.Workers*2),
		webhookQueue: make(chan models.WebhookItem, opts.Workers*4),
		workers:      opts.Workers,
		shutdown:     make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		processor:    opts.Processor,
		sender:       opts.Sender,
		logger:       opts.Logger,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return &bufferSet{
					Real: make([]float64, 0, 200),
					Imag: make([]float64, 0, 200),
				}
			},
		},
	}

	pool.start()
	return pool
}

// start initializes and starts all workers
func (p *Pool) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.wg.Add(1)
	go p.webhookProcessor()

	p.logger.Info("worker pool started", "workers", p.workers)
}

// worker processes EIS jobs from the jobs channel
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobs:
			result := p.processJob(job)
			if job.Reply != nil {
				job.Reply <- result
				continue
			}
			select {
			case p.results <- result:
			case <-p.shutdown:
				return
			}

		case <-p.shutdown:
			return
		}
	}
}

// processJob runs the processor and copies the measured impedance out of
// the job for the result.
func (p *Pool) processJob(job models.WorkItem) models.WorkResult {
	buffers := p.bufferPool.Get().(*bufferSet)
	defer p.bufferPool.Put(buffers)

	ctx, cancel := p.jobContext(job)
	defer cancel()

	startTime := time.Now()
	report, err := p.processor(ctx, job.Freqs, job.ImpData, job.Config)
	processingTime := time.Since(startTime)
	if err != nil {
		p.logger.Warn("job failed", "request_id", job.RequestID, "iteration", job.Iteration, "error", err)
	}

	p.extractImpedanceData(job.ImpData, buffers)

	// buffers are reused, the result needs its own copies
	realCopy := make([]float64, len(buffers.Real))
	imagCopy := make([]float64, len(buffers.Imag))
	copy(realCopy, buffers.Real)
	copy(imagCopy, buffers.Imag)

	circuit := ""
	if report != nil {
		circuit = report.Circuit
		report.RequestID = job.RequestID
	}

	return models.WorkResult{
		ID:             job.ID,
		RequestID:      job.RequestID,
		BatchID:        job.BatchID,
		Iteration:      job.Iteration,
		Report:         report,
		Err:            err,
		ProcessingTime: processingTime,
		Success:        err == nil,
		Freqs:          job.Freqs,
		RealImp:        realCopy,
		ImagImp:        imagCopy,
		CircuitCode:    circuit,
	}
}

// jobContext ends when the pool shuts down or the job's own context ends.
func (p *Pool) jobContext(job models.WorkItem) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(p.ctx)
	if job.Ctx == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(job.Ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// extractImpedanceData extracts real and imaginary parts from impedance data
func (p *Pool) extractImpedanceData(impData [][2]float64, buffers *bufferSet) {
	dataLen := len(impData)

	if cap(buffers.Real) < dataLen {
		newCap := dataLen + (dataLen >> 2) // +25%
		buffers.Real = make([]float64, dataLen, newCap)
		buffers.Imag = make([]float64, dataLen, newCap)
	} else {
		buffers.Real = buffers.Real[:dataLen]
		buffers.Imag = buffers.Imag[:dataLen]
	}

	for i, imp := range impData {
		buffers.Real[i] = imp[0]
		buffers.Imag[i] = imp[1]
	}
}

// webhookProcessor handles webhook requests asynchronously
func (p *Pool) webhookProcessor() {
	defer p.wg.Done()

	for {
		select {
		case item := <-p.webhookQueue:
			p.webhookWG.Add(1)
			go p.sendWebhook(item)

		case <-p.shutdown:
			return
		}
	}
}

func (p *Pool) sendWebhook(item models.WebhookItem) {
	defer p.webhookWG.Done()
	if p.sender == nil {
		return
	}
	if err := p.sender(p.ctx, item); err != nil {
		p.logger.Error("webhook failed", "request_id", item.RequestID, "error", err)
	}
}

// SubmitJob submits a job to the worker pool
func (p *Pool) SubmitJob(job models.WorkItem) {
	select {
	case p.jobs <- job:
	default:
		p.logger.Warn("jobs channel full, job may be delayed", "request_id", job.RequestID)
		p.jobs <- job
	}
}

// Process submits a job and waits for its result. The processor sees ctx
// cancelled as soon as the caller stops waiting.
func (p *Pool) Process(ctx context.Context, job models.WorkItem) (models.WorkResult, error) {
	reply := make(chan models.WorkResult, 1)
	job.Reply = reply
	job.Ctx = ctx
	select {
	case p.jobs <- job:
	case <-ctx.Done():
		return models.WorkResult{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return models.WorkResult{}, ctx.Err()
	}
}

// GetResult retrieves a result from the worker pool (non-blocking)
func (p *Pool) GetResult() (models.WorkResult, bool) {
	select {
	case result := <-p.results:
		return result, true
	default:
		return models.WorkResult{}, false
	}
}

// Results exposes the shared results channel.
func (p *Pool) Results() <-chan models.WorkResult {
	return p.results
}

// QueueWebhook queues a webhook for async processing
func (p *Pool) QueueWebhook(item models.WebhookItem) {
	select {
	case p.webhookQueue <- item:
	default:
		p.logger.Warn("webhook queue full, dropping webhook", "request_id", item.RequestID)
	}
}

// Workers returns the number of processing goroutines.
func (p *Pool) Workers() int { return p.workers }

// Shutdown stops the workers, waits for in-flight webhooks and cancels
// running fits.
func (p *Pool) Shutdown() {
	p.logger.Info("shutting down worker pool")
	close(p.shutdown)
	p.cancel()
	p.wg.Wait()
	p.webhookWG.Wait()
	p.logger.Info("worker pool shutdown complete")
}
