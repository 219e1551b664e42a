package authgate

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/hemoline/authgate/internal/audit"
)

// AuditEvent is one access, rejection or anomaly observation.
type AuditEvent = audit.Event

// AuditSink receives gate events from the async dispatcher.
type AuditSink = audit.Sink

const (
	AuditAccess    = audit.TypeAccess
	AuditRejection = audit.TypeRejection
	AuditAnomaly   = audit.TypeAnomaly
)

// NewLogrusSink logs events as structured logrus entries. It is the default
// sink when none is configured.
func NewLogrusSink(log logrus.FieldLogger) AuditSink { return audit.NewLogrusSink(log) }

// NewJSONWriterSink writes one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) AuditSink { return audit.NewJSONWriterSink(w) }

// NewChannelSink buffers events in a channel, mostly for tests.
func NewChannelSink(buffer int) *audit.ChannelSink { return audit.NewChannelSink(buffer) }
