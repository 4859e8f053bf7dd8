package streams

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/poodle/models"
)

// ErrInvalidEnvelope marks stream entries that are missing required fields.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope is the stream entry that carries one change event. EventID is the
// change id, so a consumer can drop redeliveries.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	PayloadVersion string          `json:"payload_version"`
	Data           json.RawMessage `json:"data"`
}

// ChangeEnvelope wraps ev as a course.change v1 entry.
func ChangeEnvelope(ev models.ChangeEvent) (Envelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal change %s: %w", ev.ID, err)
	}
	return Envelope{
		EventID:        ev.ID,
		EventType:      EventCourseChange,
		OccurredAt:     ev.DetectedAt,
		PayloadVersion: VersionV1,
		Data:           data,
	}, nil
}

// Change decodes the change event of a course.change entry.
func (e Envelope) Change() (models.ChangeEvent, error) {
	var ev models.ChangeEvent
	if e.EventType != EventCourseChange {
		return ev, fmt.Errorf("%w: %s is not a course change", ErrInvalidEnvelope, e.EventType)
	}
	if err := json.Unmarshal(e.Data, &ev); err != nil {
		return ev, fmt.Errorf("decode change %s: %w", e.EventID, err)
	}
	return ev, nil
}

func (e Envelope) validate() error {
	var missing string
	switch {
	case e.EventID == "":
		missing = "event_id"
	case e.EventType == "":
		missing = "event_type"
	case e.PayloadVersion == "":
		missing = "payload_version"
	case e.OccurredAt.IsZero():
		missing = "occurred_at"
	case len(e.Data) == 0:
		missing = "data"
	default:
		return nil
	}
	return fmt.Errorf("%w: %s is required", ErrInvalidEnvelope, missing)
}

// decodeEnvelope parses a stored entry and rejects incomplete ones.
func decodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return env, env.validate()
}
