package plugin

import (
	"context"
	"io"
)

const (
	StateOK      = "OK"
	StateFailure = "FAILURE"
)

// Info identifies the plugin a collector runs and its options.
type Info struct {
	PluginID string         `json:"plugin_id"`
	Version  string         `json:"version,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ResourceEnvelope is one item emitted by a plugin.
type ResourceEnvelope struct {
	ResourceType string           `json:"resource_type"`
	State        string           `json:"state"`
	Message      string           `json:"message,omitempty"`
	MatchRules   map[int][]string `json:"match_rules,omitempty"`
	UpdateMode   string           `json:"update_mode,omitempty"`
	Resource     map[string]any   `json:"resource"`
}

func (e *ResourceEnvelope) Failed() bool {
	return e.State == StateFailure
}

type TaskRequest struct {
	Plugin     Info
	SecretID   string
	SecretData map[string]any
}

type CollectRequest struct {
	Plugin      Info
	SecretID    string
	SecretData  map[string]any
	Filter      map[string]any
	TaskOptions map[string]any
}

// Stream yields envelopes in order. Next returns io.EOF once exhausted.
// A stream is consumed once and must be closed.
type Stream interface {
	Next(ctx context.Context) (*ResourceEnvelope, error)
	Close() error
}

// Collector is the plugin backend.
type Collector interface {
	// GetTasks optionally splits a secret into sub-tasks. No tasks means one task.
	GetTasks(ctx context.Context, req TaskRequest) ([]map[string]any, error)
	Collect(ctx context.Context, req CollectRequest) (Stream, error)
}

// SliceStream serves envelopes from memory.
type SliceStream struct {
	items  []*ResourceEnvelope
	pos    int
	closed bool
}

func NewSliceStream(items ...*ResourceEnvelope) *SliceStream {
	return &SliceStream{items: items}
}

func (s *SliceStream) Next(ctx context.Context) (*ResourceEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed || s.pos >= len(s.items) {
		return nil, io.EOF
	}
	item := s.items[s.pos]
	s.pos++
	return item, nil
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}
