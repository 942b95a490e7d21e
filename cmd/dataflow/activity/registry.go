// Package activity exposes the sync engines as named, JSON-in/JSON-out
// activities for the workflow host. Every activity is safe to redeliver.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/casemirror/dataflow/common/apperr"
	"github.com/casemirror/dataflow/common/metrics"
)

const module = "activity"

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Func runs one activity
type Func func(ctx context.Context, input json.RawMessage) (any, error)

// Envelope is the error shape returned to the workflow host
type Envelope struct {
	Kind      apperr.Kind `json:"kind"`
	Module    string      `json:"module"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
}

// NewEnvelope converts any error into an envelope. Only the structured
// fields cross the boundary; driver errors stay in the logs.
func NewEnvelope(err error) *Envelope {
	appErr := apperr.From(module, err)
	return &Envelope{
		Kind:      appErr.Kind,
		Module:    appErr.Module,
		Message:   appErr.Message,
		Retryable: apperr.IsRetryable(err),
	}
}

// Response is the result of one activity invocation
type Response struct {
	Activity string    `json:"activity"`
	Output   any       `json:"output,omitempty"`
	Error    *Envelope `json:"error,omitempty"`
}

// Failed reports whether the activity returned an error
func (r *Response) Failed() bool {
	return r.Error != nil
}

// Registry maps activity names to implementations
type Registry struct {
	mu         sync.RWMutex
	activities map[string]Func
	metrics    *metrics.Metrics
	logger     Logger
}

// NewRegistry creates an empty registry
func NewRegistry(m *metrics.Metrics, logger Logger) *Registry {
	return &Registry{
		activities: make(map[string]Func),
		metrics:    m,
		logger:     logger,
	}
}

// Register adds an activity. Registering a name twice panics.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.activities[name]; exists {
		panic(fmt.Sprintf("activity %s registered twice", name))
	}
	r.activities[name] = fn
}

// Names returns the registered activity names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.activities))
	for name := range r.activities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.activities[name]
	return ok
}

// Invoke runs an activity and always returns a response; failures are in
// Response.Error
func (r *Registry) Invoke(ctx context.Context, name string, input json.RawMessage) *Response {
	r.mu.RLock()
	fn, ok := r.activities[name]
	r.mu.RUnlock()

	if !ok {
		return &Response{
			Activity: name,
			Error:    NewEnvelope(apperr.NotFound(module, "unknown activity "+name)),
		}
	}

	started := time.Now()
	output, err := fn(ctx, input)
	if err != nil {
		envelope := NewEnvelope(err)
		r.metrics.RecordActivity(name, started, string(envelope.Kind))
		r.logger.Error("activity failed",
			"activity", name,
			"kind", envelope.Kind,
			"retryable", envelope.Retryable,
			"error", err)
		return &Response{Activity: name, Error: envelope}
	}

	r.metrics.RecordActivity(name, started, "")
	r.logger.Debug("activity completed", "activity", name, "duration", time.Since(started))
	return &Response{Activity: name, Output: output}
}

// decode unmarshals activity input. Empty input decodes to the zero value.
func decode[T any](input json.RawMessage) (T, error) {
	var v T
	if len(input) == 0 || string(input) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(input, &v); err != nil {
		return v, apperr.Wrap(apperr.KindValidation, module, "invalid activity input", err)
	}
	return v, nil
}
