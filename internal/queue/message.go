// Package queue carries security events over RabbitMQ when the primary store
// cannot take them, and drains them back into the store.
package queue

import (
	"time"

	"github.com/iliyamo/secure-health-portal/internal/model"
)

// SecurityEventsQueue is the durable queue used as the security event fallback.
const SecurityEventsQueue = "security.events"

// SecurityEventMessage is the wire form of a security event.  OccurredAt keeps
// the original timestamp so a late drain does not reorder history.
type SecurityEventMessage struct {
	SubjectID     *uint64 `json:"subject_id,omitempty"`
	Action        string  `json:"action"`
	Detail        string  `json:"detail,omitempty"`
	SourceAddress string  `json:"source_address,omitempty"`
	OccurredAt    string  `json:"occurred_at"`
}

func messageFromEvent(ev model.SecurityEvent) SecurityEventMessage {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return SecurityEventMessage{
		SubjectID:     ev.SubjectID,
		Action:        string(ev.Action),
		Detail:        ev.Detail,
		SourceAddress: ev.SourceAddress,
		OccurredAt:    ts.UTC().Format(time.RFC3339Nano),
	}
}

func (m SecurityEventMessage) event() (model.SecurityEvent, error) {
	ts, err := time.Parse(time.RFC3339Nano, m.OccurredAt)
	if err != nil {
		return model.SecurityEvent{}, err
	}
	return model.SecurityEvent{
		SubjectID:     m.SubjectID,
		Action:        model.Action(m.Action),
		Detail:        m.Detail,
		SourceAddress: m.SourceAddress,
		Timestamp:     ts,
	}, nil
}
