// Package jobs runs optimization jobs in a separate worker process and
// exchanges one JSON request and one JSON message with it.
package jobs

import (
	"bytes"
	"encoding/json"

	"github.com/copyleftdev/optbench/internal/config"
	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/result"
)

// Request is what the runner writes to the worker's stdin.
type Request struct {
	Formulation string          `json:"formulation"`
	Settings    config.Settings `json:"settings"`
}

// MessageKind tags the worker's reply.
type MessageKind string

const (
	MessageSuccess   MessageKind = "success"
	MessageError     MessageKind = "error"
	MessageCancelled MessageKind = "cancelled"
)

// Message is the single reply of a worker.
type Message struct {
	Kind      MessageKind    `json:"kind"`
	Record    *result.Record `json:"record,omitempty"`
	ErrorKind apperr.Kind    `json:"error_kind,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Success wraps a finished record.
func Success(rec *result.Record) *Message {
	return &Message{Kind: MessageSuccess, Record: rec}
}

// Failure reports err by kind and message.
func Failure(err error) *Message {
	return &Message{Kind: MessageError, ErrorKind: apperr.KindOf(err), Error: apperr.MessageOf(err)}
}

// CancelledMessage reports a job stopped on request. It carries no record.
func CancelledMessage() *Message {
	return &Message{Kind: MessageCancelled}
}

// Err returns the error a failed or cancelled message stands for, or nil
// for a success.
func (m *Message) Err() error {
	switch m.Kind {
	case MessageSuccess:
		return nil
	case MessageCancelled:
		return apperr.New(apperr.Cancelled, "job cancelled")
	}
	return apperr.New(m.ErrorKind, m.Error)
}

// Validate checks the message shape.
func (m *Message) Validate() error {
	const op = "Message.Validate"

	switch m.Kind {
	case MessageSuccess:
		if m.Record == nil {
			return apperr.New(apperr.WorkerFailure, "success message without record").WithOperation(op)
		}
		return m.Record.Validate()
	case MessageError:
		if m.Error == "" {
			return apperr.New(apperr.WorkerFailure, "error message without text").WithOperation(op)
		}
		return nil
	case MessageCancelled:
		return nil
	}
	return apperr.Errorf(apperr.WorkerFailure, "unknown message kind %q", m.Kind).WithOperation(op)
}

// DecodeMessage reads the reply from worker output. Only the last non-empty
// line counts so stray output before it is ignored.
func DecodeMessage(out []byte) (*Message, error) {
	const op = "jobs.DecodeMessage"

	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	last := bytes.TrimSpace(lines[len(lines)-1])
	if len(last) == 0 {
		return nil, apperr.New(apperr.WorkerFailure, "worker wrote no message").WithOperation(op)
	}
	var m Message
	if err := json.Unmarshal(last, &m); err != nil {
		return nil, apperr.Wrap(err, apperr.WorkerFailure, "undecodable worker message").WithOperation(op)
	}
	if err := m.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.WorkerFailure, "invalid worker message").WithOperation(op)
	}
	return &m, nil
}
