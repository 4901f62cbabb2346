package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

// wireEnvelope is the JSON published on the channel.
type wireEnvelope struct {
	shared.EventEnvelope
	InstanceID string `json:"instance_id"`
}

// correlated is implemented by events that carry a request id.
type correlated interface{ Correlation() string }

func encodeEnvelope(instanceID string, event shared.Event) ([]byte, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	env := wireEnvelope{InstanceID: instanceID}
	env.ID = uuid.NewString()
	env.Type = event.EventType()
	env.AggregateID = event.AggregateID()
	env.Timestamp = event.OccurredAt()
	env.Version = 1
	env.Payload = payload
	if c, ok := event.(correlated); ok {
		env.CorrelationID = c.Correlation()
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (*wireEnvelope, error) {
	env := new(wireEnvelope)
	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if env.Type == "" {
		return nil, ErrEventNotSupported
	}
	return env, nil
}

// event rebuilds a shared.Event. JSON numbers in the payload come back as float64.
func (e *wireEnvelope) event() remoteEvent {
	re := remoteEvent{envelope: e.EventEnvelope, payload: map[string]interface{}{}}
	if len(e.Payload) > 0 {
		_ = json.Unmarshal(e.Payload, &re.payload)
	}
	return re
}

type remoteEvent struct {
	envelope shared.EventEnvelope
	payload  map[string]interface{}
}

func (e remoteEvent) EventType() shared.EventType     { return e.envelope.Type }
func (e remoteEvent) AggregateID() string             { return e.envelope.AggregateID }
func (e remoteEvent) OccurredAt() time.Time           { return e.envelope.Timestamp }
func (e remoteEvent) Payload() map[string]interface{} { return e.payload }
func (e remoteEvent) Correlation() string             { return e.envelope.CorrelationID }
