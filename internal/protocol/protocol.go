// Package protocol defines the control messages exchanged over a replay
// connection and how a consumer tells them apart from data records.
package protocol

import (
	"bytes"
	"encoding/json"
)

// Status texts sent by the server. StatusReplayFinished is matched exactly
// by consumers to stop reading.
const (
	StatusDataLoaded     = "Data loaded. Starting replay."
	StatusReplayFinished = "Replay finished."
)

// Error texts sent by the server when a session cannot continue.
const (
	ErrorReadFailed    = "Could not read trade data."
	errorNotFoundFmt   = "File not found: "
	errorUnexpectedFmt = "An unexpected error occurred: "
)

// Status is an informational control message.
type Status struct {
	Status string `json:"status"`
}

// Error is a fatal-for-this-session control message.
type Error struct {
	Error string `json:"error"`
}

// StatusMessage encodes {"status": text}.
func StatusMessage(text string) []byte {
	data, _ := json.Marshal(Status{Status: text})
	return data
}

// ErrorMessage encodes {"error": text}.
func ErrorMessage(text string) []byte {
	data, _ := json.Marshal(Error{Error: text})
	return data
}

// NotFoundMessage reports a missing dataset.
func NotFoundMessage(name string) []byte {
	return ErrorMessage(errorNotFoundFmt + name)
}

// UnexpectedMessage reports an internal failure during a replay.
func UnexpectedMessage(err error) []byte {
	return ErrorMessage(errorUnexpectedFmt + err.Error())
}

// Kind classifies an inbound message.
type Kind int

const (
	KindData Kind = iota
	KindStatus
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindError:
		return "error"
	default:
		return "data"
	}
}

// Message is a decoded inbound frame.
type Message struct {
	Kind Kind
	// Text is the status or error text. Empty for data.
	Text string
	// Raw is the frame as received.
	Raw []byte
}

// Finished reports whether the message is the end-of-replay sentinel.
func (m Message) Finished() bool {
	return m.Kind == KindStatus && m.Text == StatusReplayFinished
}

// Decode classifies a frame. Objects with a top-level "status" key are
// status messages and objects with an "error" key are errors. Everything
// else, including non-object JSON, is data. Invalid JSON is an error.
func Decode(frame []byte) (Message, error) {
	msg := Message{Kind: KindData, Raw: frame}

	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		var v any
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return msg, err
		}
		return msg, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return msg, err
	}
	if raw, ok := obj["status"]; ok {
		msg.Kind = KindStatus
		msg.Text = textOf(raw)
		return msg, nil
	}
	if raw, ok := obj["error"]; ok {
		msg.Kind = KindError
		msg.Text = textOf(raw)
	}
	return msg, nil
}

// textOf returns a JSON string value, or the raw JSON for other types.
func textOf(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
