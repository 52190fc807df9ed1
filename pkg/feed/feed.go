// Package feed defines the wire format of a live caption feed.
//
// Every frame is a JSON envelope:
//
//	{ "kind": "history" | "interim" | "confirmed", "payload": { ... } }
//
// with payloads
//
//	history   { "captions": [Segment, ...] }
//	interim   { "text": "..." }
//	confirmed { "caption": Segment }
//
// Frames of any other kind are valid but carry nothing a client needs;
// [Decode] reports them with [ErrUnknownKind] so callers can skip them.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/MrWong99/captionsync/pkg/caption"
)

// Message kinds.
const (
	KindHistory   = "history"
	KindInterim   = "interim"
	KindConfirmed = "confirmed"
)

// DefaultPathTemplate is the feed path used when none is configured. The
// literal "{id}" is replaced with the escaped session id.
const DefaultPathTemplate = "/sessions/{id}/captions"

var (
	// ErrMalformed wraps every decoding failure of a frame that claims a
	// known kind, and every frame that is not a JSON envelope at all.
	ErrMalformed = errors.New("feed: malformed message")

	// ErrUnknownKind is returned for well-formed envelopes of an unrecognised kind.
	ErrUnknownKind = errors.New("feed: unknown message kind")
)

// Envelope is the outer frame of every feed message.
type Envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// HistoryPayload is the payload of a history frame.
type HistoryPayload struct {
	Captions []caption.Segment `json:"captions"`
}

// InterimPayload is the payload of an interim frame.
type InterimPayload struct {
	Text string `json:"text"`
}

// ConfirmedPayload is the payload of a confirmed frame.
type ConfirmedPayload struct {
	Caption caption.Segment `json:"caption"`
}

// Message is a decoded frame. Only the field matching Kind is populated.
type Message struct {
	Kind      string
	History   []caption.Segment
	Interim   string
	Confirmed caption.Segment
}

// Decode parses one frame. History and confirmed segments are validated; a
// single invalid segment rejects the whole frame so that a partially valid
// snapshot can never reach a store.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Kind == "" {
		return Message{}, fmt.Errorf("%w: missing kind", ErrMalformed)
	}

	msg := Message{Kind: env.Kind}
	switch env.Kind {
	case KindHistory:
		var p HistoryPayload
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return Message{}, err
		}
		for i, seg := range p.Captions {
			if err := seg.Validate(); err != nil {
				return Message{}, fmt.Errorf("%w: history caption %d: %v", ErrMalformed, i, err)
			}
		}
		msg.History = p.Captions
		if msg.History == nil {
			msg.History = []caption.Segment{}
		}

	case KindInterim:
		var p InterimPayload
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return Message{}, err
		}
		msg.Interim = p.Text

	case KindConfirmed:
		var p ConfirmedPayload
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return Message{}, err
		}
		if err := p.Caption.Validate(); err != nil {
			return Message{}, fmt.Errorf("%w: confirmed caption: %v", ErrMalformed, err)
		}
		msg.Confirmed = p.Caption

	default:
		return msg, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	return msg, nil
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: missing payload", ErrMalformed)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// EncodeHistory builds a history frame.
func EncodeHistory(segments []caption.Segment) ([]byte, error) {
	if segments == nil {
		segments = []caption.Segment{}
	}
	return encode(KindHistory, HistoryPayload{Captions: segments})
}

// EncodeInterim builds an interim frame.
func EncodeInterim(text string) ([]byte, error) {
	return encode(KindInterim, InterimPayload{Text: text})
}

// EncodeConfirmed builds a confirmed frame.
func EncodeConfirmed(seg caption.Segment) ([]byte, error) {
	return encode(KindConfirmed, ConfirmedPayload{Caption: seg})
}

func encode(kind string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("feed: encode %s payload: %w", kind, err)
	}
	data, err := json.Marshal(Envelope{Kind: kind, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("feed: encode %s envelope: %w", kind, err)
	}
	return data, nil
}

// URL resolves the feed address of sessionID against baseURL using
// pathTemplate. An empty template selects [DefaultPathTemplate].
func URL(baseURL, pathTemplate, sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("feed: session id must not be empty")
	}
	if pathTemplate == "" {
		pathTemplate = DefaultPathTemplate
	}
	if !strings.Contains(pathTemplate, "{id}") {
		return "", fmt.Errorf("feed: path template %q has no {id} placeholder", pathTemplate)
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("feed: parse base url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("feed: unsupported base url scheme %q", u.Scheme)
	}

	// The path is joined in escaped form so an escaped "/" in the id stays
	// part of one segment. Query and fragment of the base are kept.
	raw := strings.TrimSuffix(u.EscapedPath(), "/") +
		strings.ReplaceAll(pathTemplate, "{id}", url.PathEscape(sessionID))
	path, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("feed: path template: %w", err)
	}
	u.Path, u.RawPath = path, raw
	return u.String(), nil
}
