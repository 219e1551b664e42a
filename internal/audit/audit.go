package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Event types emitted by the gate.
const (
	TypeAccess    = "access"
	TypeRejection = "rejection"
	TypeAnomaly   = "anomaly"
)

// Event is one gate observation.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	RequestID string            `json:"request_id,omitempty"`
	Method    string            `json:"method,omitempty"`
	Path      string            `json:"path,omitempty"`
	Status    int               `json:"status,omitempty"`
	Latency   time.Duration     `json:"latency_ns,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Code      string            `json:"code,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// LogrusSink logs access events at info (warn for 5xx), rejections at info and
// anomalies at warn.
type LogrusSink struct {
	log logrus.FieldLogger
}

func NewLogrusSink(log logrus.FieldLogger) *LogrusSink {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogrusSink{log: log}
}

func (s *LogrusSink) Emit(_ context.Context, event Event) {
	fields := logrus.Fields{
		"event":      event.EventType,
		"method":     event.Method,
		"path":       event.Path,
		"ip":         event.IP,
		"user_agent": event.UserAgent,
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.Status != 0 {
		fields["status"] = event.Status
	}
	if event.Latency > 0 {
		fields["latency_ms"] = float64(event.Latency.Microseconds()) / 1000
	}
	if event.Code != "" {
		fields["code"] = event.Code
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := s.log.WithFields(fields)
	switch {
	case event.EventType == TypeAnomaly:
		entry.Warn("gate: suspicious request: " + event.Reason)
	case event.Status >= 500:
		entry.Warn("gate: request failed")
	case event.EventType == TypeRejection:
		entry.Info("gate: request rejected")
	default:
		entry.Info("gate: request")
	}
}
