package communication

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	internalerrors "github.com/AnishMulay/tfs/internal/communication/internal"
)

// PayloadRegistry maps a message type to the struct its JSON payload decodes
// into. Transports embed it so handlers receive typed payloads.
type PayloadRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

func (r *PayloadRegistry) RegisterPayloadType(msgType string, payloadType reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.types == nil {
		r.types = make(map[string]reflect.Type)
	}
	r.types[msgType] = payloadType
}

// DecodePayload turns raw JSON into a value of the type registered for
// msgType. An empty payload decodes to nil.
func (r *PayloadRegistry) DecodePayload(msgType string, raw []byte) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	r.mu.RLock()
	payloadType, ok := r.types[msgType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", internalerrors.ErrUnknownMessageType, msgType)
	}

	payload := reflect.New(payloadType)
	if err := json.Unmarshal(raw, payload.Interface()); err != nil {
		return nil, fmt.Errorf("%w: %w", internalerrors.ErrPayloadUnmarshalFailed, err)
	}
	return payload.Elem().Interface(), nil
}
