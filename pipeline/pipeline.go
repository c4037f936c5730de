// Package pipeline validates, de-duplicates and writes parsed shelf records.
package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aluiziolira/shelf-feed/models"
	"github.com/aluiziolira/shelf-feed/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []models.BookRecord) error
	Close() error
	Validate() error
}

// Stats counts what the pipeline did with its input.
type Stats struct {
	Written  int64
	Rejected map[string]int
}

// Pipeline coordinates validation, de-duplication and output writing. A
// single writer goroutine keeps records in submission order.
type Pipeline struct {
	writer    OutputWriter
	recordCh  chan models.BookRecord
	batchSize int

	wg    sync.WaitGroup
	sends sync.WaitGroup // in-flight enqueues; recordCh closes after they finish
	seen  map[string]struct{}

	statsMu sync.Mutex
	stats   Stats

	mu      sync.Mutex // guards closed/err/started
	closed  bool
	started bool
	err     error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline with a modest in-memory buffer.
func NewPipeline(writer OutputWriter) *Pipeline {
	return &Pipeline{
		writer:    writer,
		recordCh:  make(chan models.BookRecord, 256),
		batchSize: 64,
		seen:      make(map[string]struct{}),
		stats:     Stats{Rejected: make(map[string]int)},
		shutdown:  make(chan struct{}),
	}
}

// Start launches the writer goroutine. Calling it twice is a no-op.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.started {
		return
	}
	p.started = true

	p.wg.Add(1)
	go p.worker()
}

// Process enqueues records for downstream processing.
func (p *Pipeline) Process(records ...models.BookRecord) error {
	if len(records) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, r := range records {
		if err := p.enqueue(r); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for the writer to drain and prevents more submissions.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.sends.Wait()
	p.closeOnce.Do(func() {
		close(p.recordCh)
	})

	p.wg.Wait()
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	rejected := make(map[string]int, len(p.stats.Rejected))
	for k, v := range p.stats.Rejected {
		rejected[k] = v
	}
	return Stats{Written: p.stats.Written, Rejected: rejected}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]models.BookRecord, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		p.addWritten(len(batch))
		batch = batch[:0]
		return nil
	}

	for r := range p.recordCh {
		if !p.accept(&r) {
			continue
		}
		batch = append(batch, r)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

// accept runs on the worker goroutine only, so seen needs no lock.
func (p *Pipeline) accept(r *models.BookRecord) bool {
	if err := parser.ValidateRecord(r); err != nil {
		p.addRejected("invalid_record")
		return false
	}

	key := dedupKey(r)
	if _, ok := p.seen[key]; ok {
		p.addRejected("duplicate")
		return false
	}
	p.seen[key] = struct{}{}
	return true
}

// dedupKey prefers the entry link; linkless entries fall back to title and
// author.
func dedupKey(r *models.BookRecord) string {
	if r.Link != "" {
		return "link:" + r.Link
	}
	return "book:" + strings.ToLower(r.Title) + "\x00" + strings.ToLower(r.Author)
}

func (p *Pipeline) enqueue(r models.BookRecord) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPipelineClosed
	}
	p.sends.Add(1)
	p.mu.Unlock()
	defer p.sends.Done()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.recordCh <- r:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

func (p *Pipeline) addWritten(n int) {
	p.statsMu.Lock()
	p.stats.Written += int64(n)
	p.statsMu.Unlock()
}

func (p *Pipeline) addRejected(kind string) {
	p.statsMu.Lock()
	p.stats.Rejected[kind]++
	p.statsMu.Unlock()
}
