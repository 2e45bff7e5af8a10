package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/raaihank/lead-sentinel/internal/config"
	"github.com/raaihank/lead-sentinel/internal/metrics"
	"github.com/raaihank/lead-sentinel/internal/privacy"
	"github.com/raaihank/lead-sentinel/internal/upstream"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sanitizer redacts PII from a text, extending a mapping history
type Sanitizer interface {
	ProcessText(text string, mappings []privacy.Mapping) privacy.Result
	// Complete reports whether every PII category is redacted
	Complete() bool
}

// ErrIncompleteSanitizer is returned when the sanitizer would let some PII
// category through to the upstream store
var ErrIncompleteSanitizer = errors.New("sanitizer does not redact every PII category")

// Pipeline imports lead message exports: every record is sanitized, its lead
// is resolved to an anonymous token and the sanitized message is stored.
type Pipeline struct {
	sanitizer Sanitizer
	accessor  upstream.Accessor
	metrics   *metrics.Metrics
	config    config.ETLConfig
	logger    *zap.Logger
}

// NewPipeline creates a new ETL pipeline. m may be nil.
func NewPipeline(
	sanitizer Sanitizer,
	accessor upstream.Accessor,
	m *metrics.Metrics,
	cfg config.ETLConfig,
	logger *zap.Logger,
) *Pipeline {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	return &Pipeline{
		sanitizer: sanitizer,
		accessor:  accessor,
		metrics:   m,
		config:    cfg,
		logger:    logger,
	}
}

// ProcessFile imports a dataset file (CSV, Parquet, or JSON lines)
func (p *Pipeline) ProcessFile(ctx context.Context, filePath string) (*ProcessingResult, error) {
	format := DetectFileFormat(filePath)
	p.logger.Info("Starting import",
		zap.String("file", filePath),
		zap.String("format", string(format)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer file.Close()

	if format == FormatParquet {
		info, err := file.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", filePath, err)
		}
		next, closeReader, err := newParquetReader(file, info.Size())
		if err != nil {
			return nil, err
		}
		defer closeReader()
		return p.run(ctx, next)
	}

	return p.Process(ctx, format, file)
}

// Process imports records from a stream. Parquet needs random access and is
// only supported through ProcessFile.
func (p *Pipeline) Process(ctx context.Context, format FileFormat, r io.Reader) (*ProcessingResult, error) {
	switch format {
	case FormatCSV:
		next, err := newCSVReader(r)
		if err != nil {
			return nil, err
		}
		return p.run(ctx, next)
	case FormatJSON:
		return p.run(ctx, newJSONReader(r))
	default:
		return nil, fmt.Errorf("unsupported stream format: %s", format)
	}
}

// leadState is the per-lead memory of one worker. A lead always lands on the
// same worker, so it needs no locking.
type leadState struct {
	history map[string][]privacy.Mapping
	tokens  map[string]string
}

type runStats struct {
	start      time.Time
	total      atomic.Int64
	stored     atomic.Int64
	failed     atomic.Int64
	invalid    atomic.Int64
	duplicates atomic.Int64

	mu         sync.Mutex
	redactions map[string]int
	errors     []string
}

func (s *runStats) addError(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errors) < maxErrors {
		s.errors = append(s.errors, fmt.Sprintf(format, args...))
	}
}

func (s *runStats) addRedactions(findings []privacy.Finding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range findings {
		s.redactions[string(f.Category)] += f.Count
	}
}

func (p *Pipeline) run(ctx context.Context, next nextFunc) (*ProcessingResult, error) {
	if !p.sanitizer.Complete() {
		return nil, ErrIncompleteSanitizer
	}

	stats := &runStats{start: time.Now(), redactions: make(map[string]int)}

	queues := make([]chan *MessageRecord, p.config.WorkerCount)
	for i := range queues {
		queues[i] = make(chan *MessageRecord, p.config.BatchSize)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		return p.dispatch(gctx, next, queues, stats)
	})

	for _, q := range queues {
		g.Go(func() error {
			state := &leadState{
				history: make(map[string][]privacy.Mapping),
				tokens:  make(map[string]string),
			}
			for record := range q {
				if err := gctx.Err(); err != nil {
					return err
				}
				p.processRecord(gctx, state, record, stats)
				p.reportProgress(stats)
			}
			return nil
		})
	}

	err := g.Wait()
	result := stats.result()

	p.logger.Info("Import completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("stored", result.Stored),
		zap.Int64("failed", result.Failed),
		zap.Int64("invalid", result.Invalid),
		zap.Int64("duplicates", result.Duplicates),
		zap.Duration("duration", result.Duration))

	if err != nil {
		return result, fmt.Errorf("import aborted: %w", err)
	}
	return result, nil
}

// dispatch reads records and routes each lead to a fixed worker so a lead's
// messages are sanitized in file order against one mapping history.
func (p *Pipeline) dispatch(ctx context.Context, next nextFunc, queues []chan *MessageRecord, stats *runStats) error {
	seen := make(map[string]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		record, err := next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		var recErr *recordError
		if errors.As(err, &recErr) {
			stats.total.Add(1)
			stats.invalid.Add(1)
			p.observe("invalid")
			stats.addError("%v", recErr)
			p.logger.Warn("Skipping malformed record", zap.Error(recErr))
			continue
		}
		if err != nil {
			return err
		}

		stats.total.Add(1)

		if reason := validateRecord(record); reason != "" {
			stats.invalid.Add(1)
			p.observe("invalid")
			stats.addError("message %q: %s", record.MessageID, reason)
			p.logger.Debug("Invalid record", zap.String("message_id", record.MessageID), zap.String("reason", reason))
			continue
		}

		if _, dup := seen[record.MessageID]; dup {
			stats.duplicates.Add(1)
			p.observe("duplicate")
			continue
		}
		seen[record.MessageID] = struct{}{}

		shard := xxhash.Sum64String(record.LeadID) % uint64(len(queues))
		select {
		case queues[shard] <- record:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) processRecord(ctx context.Context, state *leadState, record *MessageRecord, stats *runStats) {
	result := p.sanitizer.ProcessText(record.Content, state.history[record.LeadID])
	state.history[record.LeadID] = result.Mappings
	stats.addRedactions(result.Findings)
	if p.metrics != nil {
		for _, f := range result.Findings {
			p.metrics.ObserveRedaction(string(f.Category), f.Count)
		}
	}

	token, ok := state.tokens[record.LeadID]
	if !ok {
		token, ok = p.accessor.GetOrCreateAnonymousToken(ctx, record.LeadID)
		if !ok {
			stats.failed.Add(1)
			p.observe("failed")
			stats.addError("message %q: no anonymous token for lead", record.MessageID)
			return
		}
		state.tokens[record.LeadID] = token
	}

	metadata := map[string]any{
		"origen": "import",
		"categorias": lo.Map(result.Findings, func(f privacy.Finding, _ int) string {
			return string(f.Category)
		}),
	}
	stored := p.accessor.StoreSanitizedMessage(ctx, upstream.SanitizedMessage{
		MessageID:         record.MessageID,
		TokenAnonimo:      token,
		ContentSanitized:  result.SanitizedText,
		MetadataSanitized: metadata,
	})
	if !stored {
		stats.failed.Add(1)
		p.observe("failed")
		stats.addError("message %q: store rejected", record.MessageID)
		return
	}

	stats.stored.Add(1)
	p.observe("stored")
}

// validateRecord returns why a record cannot be imported, or "" if it can
func validateRecord(record *MessageRecord) string {
	switch {
	case record.MessageID == "":
		return "empty message_id"
	case record.LeadID == "":
		return "empty lead_id"
	case strings.TrimSpace(record.Content) == "":
		return "empty content"
	case len(record.Content) > maxContentLength:
		return "content too long"
	}
	return ""
}

func (p *Pipeline) observe(outcome string) {
	if p.metrics != nil {
		p.metrics.ImportedRecords.WithLabelValues(outcome).Inc()
	}
}

// reportProgress logs every ProgressReport completed records
func (p *Pipeline) reportProgress(stats *runStats) {
	if p.config.ProgressReport <= 0 {
		return
	}
	done := stats.stored.Load() + stats.failed.Load()
	if done == 0 || done%int64(p.config.ProgressReport) != 0 {
		return
	}

	elapsed := time.Since(stats.start)
	p.logger.Info("Import progress",
		zap.Int64("records_done", done),
		zap.Int64("stored", stats.stored.Load()),
		zap.Int64("failed", stats.failed.Load()),
		zap.Float64("rate_per_sec", float64(done)/elapsed.Seconds()),
		zap.Duration("elapsed", elapsed))
}

func (s *runStats) result() *ProcessingResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &ProcessingResult{
		TotalRecords: s.total.Load(),
		Stored:       s.stored.Load(),
		Failed:       s.failed.Load(),
		Invalid:      s.invalid.Load(),
		Duplicates:   s.duplicates.Load(),
		Redactions:   s.redactions,
		Duration:     time.Since(s.start),
		Errors:       s.errors,
	}
}
