// Package writer applies planned ledger operations in bounded concurrent
// chunks. A failed operation is recorded and never aborts the batch.
package writer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"training-reconciliation-service/internal/models"
	"training-reconciliation-service/internal/store"
	"training-reconciliation-service/pkg/logger"
)

// OperationKind distinguishes inserts from in-place updates
type OperationKind string

const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
)

// Operation is one planned ledger write. Updates address Entry.ID and write
// Entry.Fields(); creates upsert the whole entry.
type Operation struct {
	Kind  OperationKind
	Entry models.LedgerEntry
}

// OperationResult is the outcome of one operation
type OperationResult struct {
	Operation   Operation
	ConflictKey models.ConflictKey
	Err         error
}

// WriteResult summarizes a batch
type WriteResult struct {
	Results        []OperationResult
	Created        int
	Updated        int
	Failed         int
	// Merged counts creates that landed on a row an earlier create of the
	// batch had already written, which happens on the legacy key
	Merged         int
	LegacyFallback bool
	Duration       time.Duration

	// Err combines every operation error, nil when all succeeded
	Err error
}

// Failures returns the results that carry an error
func (r *WriteResult) Failures() []OperationResult {
	var out []OperationResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// BatchWriter writes operations to a LedgerStore
type BatchWriter struct {
	store   store.LedgerStore
	config  *Config
	logger  logger.Logger
	metrics *metrics
	legacy  atomic.Bool
}

// NewBatchWriter creates a writer. A nil config uses DefaultConfig.
func NewBatchWriter(s store.LedgerStore, config *Config, log logger.Logger) (*BatchWriter, error) {
	if s == nil {
		return nil, errors.New("ledger store is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid writer configuration")
	}

	w := &BatchWriter{
		store:   s,
		config:  config,
		logger:  logger.OrGlobal(log, "ledger_writer"),
		metrics: getMetrics(),
	}
	w.legacy.Store(config.initialKey() == models.ConflictLegacy)
	return w, nil
}

// ConflictKey returns the key creates currently upsert on
func (w *BatchWriter) ConflictKey() models.ConflictKey {
	if w.legacy.Load() {
		return models.ConflictLegacy
	}
	return models.ConflictLocationScoped
}

// Apply writes every create and then every update, chunk by chunk. Once ctx is
// done no further chunk is started and the remaining operations fail with the
// context error.
func (w *BatchWriter) Apply(ctx context.Context, ops []Operation) *WriteResult {
	start := time.Now()
	startedLegacy := w.legacy.Load()

	var creates, updates []Operation
	for _, op := range ops {
		if op.Kind == OperationUpdate {
			updates = append(updates, op)
		} else {
			creates = append(creates, op)
		}
	}

	w.logger.WithFields(logger.Fields{
		"creates":    len(creates),
		"updates":    len(updates),
		"chunk_size": w.config.ChunkSize,
	}).Info("Writing ledger operations")

	result := &WriteResult{Results: make([]OperationResult, 0, len(ops))}
	result.Results = append(result.Results, w.applyKind(ctx, OperationCreate, creates)...)
	result.Results = append(result.Results, w.applyKind(ctx, OperationUpdate, updates)...)

	rows := make(map[models.LedgerKey]bool)
	for _, res := range result.Results {
		switch {
		case res.Err != nil:
			result.Failed++
			result.Err = multierr.Append(result.Err, res.Err)
		case res.Operation.Kind == OperationUpdate:
			result.Updated++
		case rows[rowKey(res.Operation.Entry, res.ConflictKey)]:
			result.Merged++
		default:
			rows[rowKey(res.Operation.Entry, res.ConflictKey)] = true
			result.Created++
		}
	}
	result.LegacyFallback = !startedLegacy && w.legacy.Load()
	result.Duration = time.Since(start)

	log := w.logger.WithFields(logger.Fields{
		"created":  result.Created,
		"updated":  result.Updated,
		"merged":   result.Merged,
		"failed":   result.Failed,
		"duration": result.Duration,
	})
	if result.Failed > 0 {
		log.Warn("Ledger write finished with failures")
	} else {
		log.Info("Ledger write finished")
	}
	return result
}

func (w *BatchWriter) applyKind(ctx context.Context, kind OperationKind, ops []Operation) []OperationResult {
	results := make([]OperationResult, len(ops))
	size := w.config.ChunkSize

	for lo := 0; lo < len(ops); lo += size {
		hi := lo + size
		if hi > len(ops) {
			hi = len(ops)
		}

		if err := ctx.Err(); err != nil {
			for i := lo; i < len(ops); i++ {
				results[i] = OperationResult{Operation: ops[i], Err: errors.Wrap(err, "ledger write not started")}
				w.metrics.operationsTotal.WithLabelValues(string(kind), "cancelled").Inc()
			}
			w.logger.WithFields(logger.Fields{"kind": kind, "skipped": len(ops) - lo}).Warn("Context done, remaining operations skipped")
			break
		}

		chunkStart := time.Now()
		p := pool.New().WithMaxGoroutines(hi - lo)
		for i := lo; i < hi; i++ {
			p.Go(func() {
				results[i] = w.applyOne(ctx, ops[i])
			})
		}
		p.Wait()
		w.metrics.chunkDuration.WithLabelValues(string(kind)).Observe(time.Since(chunkStart).Seconds())

		w.logger.WithFields(logger.Fields{
			"kind":  kind,
			"from":  lo,
			"to":    hi,
			"total": len(ops),
		}).Debug("Chunk written")
	}
	return results
}

func (w *BatchWriter) applyOne(ctx context.Context, op Operation) OperationResult {
	res := OperationResult{Operation: op}
	if op.Kind == OperationUpdate {
		res.Err = w.store.Update(ctx, op.Entry.ID, op.Entry.Fields())
		if res.Err != nil {
			res.Err = errors.Wrapf(res.Err, "update %s", op.Entry.Key())
		}
	} else {
		res.ConflictKey, res.Err = w.create(ctx, op.Entry)
	}

	if res.Err != nil {
		w.logger.WithError(res.Err).WithField("key", op.Entry.Key().String()).Warn("Ledger write failed")
	}
	w.metrics.operationsTotal.WithLabelValues(string(op.Kind), resultLabel(res.Err)).Inc()
	return res
}

// CountRows tallies planned operations by the ledger rows they will touch when
// creates upsert on key. Creates sharing a row count once; the rest are merged.
func CountRows(ops []Operation, key models.ConflictKey) (created, updated, merged int) {
	rows := make(map[models.LedgerKey]bool)
	for _, op := range ops {
		switch row := rowKey(op.Entry, key); {
		case op.Kind == OperationUpdate:
			updated++
		case rows[row]:
			merged++
		default:
			rows[row] = true
			created++
		}
	}
	return created, updated, merged
}

// rowKey is the ledger row a create of entry lands on under key
func rowKey(entry models.LedgerEntry, key models.ConflictKey) models.LedgerKey {
	if key == models.ConflictLegacy {
		return entry.Key().Legacy()
	}
	return entry.Key()
}

// create upserts entry on the current conflict key. A store without the
// location-scoped constraint moves the whole writer to the legacy key.
func (w *BatchWriter) create(ctx context.Context, entry models.LedgerEntry) (models.ConflictKey, error) {
	key := w.ConflictKey()
	err := w.store.Upsert(ctx, []models.LedgerEntry{entry}, key)
	if err != nil && key == models.ConflictLocationScoped && errors.Is(err, store.ErrConflictKeyUnsupported) {
		if w.legacy.CompareAndSwap(false, true) {
			w.metrics.legacyFallback.Inc()
			w.logger.Warn("Ledger has no location-scoped unique key, using the legacy (staff, course) key")
		}
		key = models.ConflictLegacy
		err = w.store.Upsert(ctx, []models.LedgerEntry{entry}, key)
	}
	if err != nil {
		return key, errors.Wrapf(err, "create %s", entry.Key())
	}
	return key, nil
}
