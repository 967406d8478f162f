package queue

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateTaskKey is returned by Register when taskKey is already bound.
var ErrDuplicateTaskKey = errors.New("queue: duplicate task key")

// ErrUnknownTaskKey is returned by Decode when no decoder is registered for
// a job's taskKey; the Registry has no fallback decoder.
var ErrUnknownTaskKey = errors.New("queue: unknown task key")

// Decoder turns a job's BSON payload into a runnable Task.
type Decoder func(payload []byte) (Task, error)

// Registry maps taskKey strings to Decoders: a dispatch-by-name table.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

// NewRegistry constructs an empty task-decoder registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

// Register binds taskKey to decode. Re-registering the same key is an error.
func (r *Registry) Register(taskKey string, decode Decoder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decoders[taskKey]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTaskKey, taskKey)
	}
	r.decoders[taskKey] = decode
	return nil
}

// Decode looks up taskKey's decoder and runs it against payload.
func (r *Registry) Decode(taskKey string, payload []byte) (Task, error) {
	r.mu.RLock()
	decode, ok := r.decoders[taskKey]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskKey, taskKey)
	}
	return decode(payload)
}
