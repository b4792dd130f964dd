// request_context.go - Request tracking and logging system

package common

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestContext tracks one prediction request or reconciliation run: its id,
// the timing of each step and the LLM tokens it consumed. It is safe for use
// from the goroutines of a single run.
type RequestContext struct {
	RequestID string
	CompanyID string
	StartTime time.Time

	logger *zap.Logger

	mu          sync.Mutex
	steps       []StepLog
	open        map[string]time.Time
	totalTokens TokenUsage
}

// StepLog represents a single processing step
type StepLog struct {
	Name      string      `json:"name"`
	StartTime time.Time   `json:"start_time"`
	Duration  int64       `json:"duration_ms"`
	Status    string      `json:"status"` // "success", "failed", "skipped"
	Tokens    *TokenUsage `json:"tokens,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// TokenUsage tracks API token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates u into t.
func (t *TokenUsage) Add(u TokenUsage) {
	t.InputTokens += u.InputTokens
	t.OutputTokens += u.OutputTokens
	t.TotalTokens += u.TotalTokens
}

// Step status values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// NewRequestContext creates a new request tracking context
func NewRequestContext(logger *zap.Logger, companyID string) *RequestContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	reqID := uuid.New().String()
	rc := &RequestContext{
		RequestID: reqID,
		CompanyID: companyID,
		StartTime: time.Now(),
		logger:    logger.With(zap.String("request_id", reqID), zap.String("company_id", companyID)),
		open:      make(map[string]time.Time),
	}
	rc.logger.Debug("request started")
	return rc
}

// Logger returns the request-scoped logger.
func (rc *RequestContext) Logger() *zap.Logger {
	return rc.logger
}

// StartStep begins tracking a named step. Steps may overlap.
func (rc *RequestContext) StartStep(stepName string) {
	rc.mu.Lock()
	rc.open[stepName] = time.Now()
	rc.mu.Unlock()
	rc.logger.Debug("step started", zap.String("step", stepName))
}

// EndStep completes a step and records its timing
func (rc *RequestContext) EndStep(stepName, status string, tokens *TokenUsage, err error) {
	rc.mu.Lock()
	start, ok := rc.open[stepName]
	if !ok {
		start = time.Now()
	}
	delete(rc.open, stepName)

	step := StepLog{
		Name:      stepName,
		StartTime: start,
		Duration:  time.Since(start).Milliseconds(),
		Status:    status,
		Tokens:    tokens,
	}
	if tokens != nil {
		rc.totalTokens.Add(*tokens)
	}
	if err != nil {
		step.Error = err.Error()
	}
	rc.steps = append(rc.steps, step)
	rc.mu.Unlock()

	fields := []zap.Field{
		zap.String("step", stepName),
		zap.String("status", status),
		zap.Int64("duration_ms", step.Duration),
	}
	if tokens != nil {
		fields = append(fields, zap.Int("input_tokens", tokens.InputTokens), zap.Int("output_tokens", tokens.OutputTokens))
	}
	if err != nil {
		rc.logger.Warn("step failed", append(fields, zap.Error(err))...)
		return
	}
	rc.logger.Debug("step finished", fields...)
}

// RecordTokens adds token usage that is not tied to a tracked step.
func (rc *RequestContext) RecordTokens(u TokenUsage) {
	rc.mu.Lock()
	rc.totalTokens.Add(u)
	rc.mu.Unlock()
}

// Steps returns a copy of the finished steps.
func (rc *RequestContext) Steps() []StepLog {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]StepLog, len(rc.steps))
	copy(out, rc.steps)
	return out
}

// GetSummary returns a final summary of the entire request
func (rc *RequestContext) GetSummary() map[string]interface{} {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	totalDuration := time.Since(rc.StartTime).Milliseconds()
	stepBreakdown := make(map[string]int64, len(rc.steps))
	failed := 0
	for _, step := range rc.steps {
		stepBreakdown[step.Name] += step.Duration
		if step.Status == StatusFailed {
			failed++
		}
	}

	rc.logger.Info("request finished",
		zap.Int64("total_duration_ms", totalDuration),
		zap.Int("steps", len(rc.steps)),
		zap.Int("failed_steps", failed),
		zap.Int("total_tokens", rc.totalTokens.TotalTokens),
	)

	return map[string]interface{}{
		"request_id":        rc.RequestID,
		"company_id":        rc.CompanyID,
		"total_duration_ms": totalDuration,
		"step_breakdown":    stepBreakdown,
		"total_steps":       len(rc.steps),
		"failed_steps":      failed,
		"token_usage": map[string]interface{}{
			"input_tokens":  rc.totalTokens.InputTokens,
			"output_tokens": rc.totalTokens.OutputTokens,
			"total_tokens":  rc.totalTokens.TotalTokens,
		},
	}
}

// LogInfo logs info-level message with request ID prefix
func (rc *RequestContext) LogInfo(format string, args ...interface{}) {
	rc.logger.Info(fmt.Sprintf(format, args...))
}

// LogWarning logs warning-level message with request ID prefix
func (rc *RequestContext) LogWarning(format string, args ...interface{}) {
	rc.logger.Warn(fmt.Sprintf(format, args...))
}

// LogError logs error-level message with request ID prefix
func (rc *RequestContext) LogError(format string, args ...interface{}) {
	rc.logger.Error(fmt.Sprintf(format, args...))
}

type requestContextKey struct{}

// WithRequestContext attaches rc to ctx so deeper calls can record tokens and
// steps against the same run.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom returns the run attached to ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}
