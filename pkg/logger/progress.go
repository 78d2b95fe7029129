package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker logs the progress of a long-running import stage at intervals.
type ProgressTracker struct {
	logger      Logger
	stage       string
	total       int64
	current     int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mutex       sync.Mutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Stage       string
	Total       int64
	LogInterval time.Duration
	Logger      Logger
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}

	now := time.Now()
	tracker := &ProgressTracker{
		logger:      OrGlobal(config.Logger, "progress"),
		stage:       config.Stage,
		total:       config.Total,
		startTime:   now,
		lastLogTime: now,
		logInterval: config.LogInterval,
	}

	tracker.logger.WithFields(Fields{
		"stage": config.Stage,
		"total": config.Total,
	}).Debug("Stage started")

	return tracker
}

// Add advances the counter by delta and logs when the interval has elapsed.
func (p *ProgressTracker) Add(delta int64) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current += delta
	now := time.Now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.logger.WithFields(p.fieldsAt(now)).Info("Progress update")
		p.lastLogTime = now
	}
}

// Increment advances the counter by one.
func (p *ProgressTracker) Increment() {
	p.Add(1)
}

// Complete logs the final statistics of the stage.
func (p *ProgressTracker) Complete() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logger.WithFields(p.fieldsAt(time.Now())).Info("Stage completed")
}

// CompleteWithError logs the final statistics of a failed stage.
func (p *ProgressTracker) CompleteWithError(err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logger.WithError(err).WithFields(p.fieldsAt(time.Now())).Error("Stage failed")
}

// GetStats returns current progress statistics
func (p *ProgressTracker) GetStats() ProgressStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	duration := time.Since(p.startTime)
	stats := ProgressStats{
		Stage:    p.stage,
		Total:    p.total,
		Current:  p.current,
		Duration: duration,
	}
	if duration.Seconds() > 0 {
		stats.Rate = float64(p.current) / duration.Seconds()
	}
	if p.total > 0 {
		stats.Percentage = float64(p.current) / float64(p.total) * 100
	}
	return stats
}

func (p *ProgressTracker) fieldsAt(now time.Time) Fields {
	duration := now.Sub(p.startTime)
	var rate float64
	if duration.Seconds() > 0 {
		rate = float64(p.current) / duration.Seconds()
	}

	fields := Fields{
		"stage":     p.stage,
		"processed": p.current,
		"duration":  duration.Round(time.Millisecond).String(),
		"rate":      fmt.Sprintf("%.2f/sec", rate),
	}
	if p.total > 0 {
		fields["total"] = p.total
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(p.current)/float64(p.total)*100)
	}
	return fields
}

// ProgressStats contains progress statistics
type ProgressStats struct {
	Stage      string        `json:"stage"`
	Total      int64         `json:"total"`
	Current    int64         `json:"current"`
	Percentage float64       `json:"percentage"`
	Duration   time.Duration `json:"duration"`
	Rate       float64       `json:"rate"`
}

// String returns a human-readable representation of the progress
func (ps ProgressStats) String() string {
	if ps.Total > 0 {
		return fmt.Sprintf("%s: %d/%d (%.1f%%) at %.2f/sec",
			ps.Stage, ps.Current, ps.Total, ps.Percentage, ps.Rate)
	}
	return fmt.Sprintf("%s: %d processed at %.2f/sec, elapsed: %v",
		ps.Stage, ps.Current, ps.Rate, ps.Duration)
}

// OperationLogger logs the steps and outcome of one named operation with timing.
type OperationLogger struct {
	logger    Logger
	operation string
	startTime time.Time
}

// NewOperationLogger creates a new operation logger
func NewOperationLogger(operation string, logger Logger) *OperationLogger {
	ol := &OperationLogger{
		logger:    OrGlobal(logger, "operation").WithField("operation", operation),
		operation: operation,
		startTime: time.Now(),
	}
	ol.logger.Info("Starting operation")
	return ol
}

// WithFields attaches fields to every later entry of the operation.
func (ol *OperationLogger) WithFields(fields Fields) *OperationLogger {
	ol.logger = ol.logger.WithFields(fields)
	return ol
}

// Step logs a step within the operation
func (ol *OperationLogger) Step(step string) {
	ol.logger.WithField("step", step).Info("Operation step")
}

// Success completes the operation successfully
func (ol *OperationLogger) Success(message string) {
	ol.logger.WithFields(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "success",
	}).Info(message)
}

// Error completes the operation with an error
func (ol *OperationLogger) Error(err error, message string) {
	ol.logger.WithError(err).WithFields(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "error",
	}).Error(message)
}

// TimedOperation executes a function and logs timing information
func TimedOperation(operation string, logger Logger, fn func() error) error {
	ol := NewOperationLogger(operation, logger)
	if err := fn(); err != nil {
		ol.Error(err, "Operation failed")
		return err
	}
	ol.Success("Operation completed")
	return nil
}
