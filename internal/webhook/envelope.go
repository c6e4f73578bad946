package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	EventCallIncoming = "realtime.call.incoming"
	EventCallEnded    = "realtime.call.ended"
)

var ErrMalformedEnvelope = errors.New("malformed webhook envelope")

type SIPHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type CallData struct {
	CallID     string      `json:"call_id"`
	SIPHeaders []SIPHeader `json:"sip_headers,omitempty"`
}

func (d CallData) Header(name string) string {
	for _, h := range d.SIPHeaders {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

type Envelope struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	CreatedAt int64    `json:"created_at"`
	Data      CallData `json:"data"`
}

func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing event type", ErrMalformedEnvelope)
	}
	return env, nil
}
