// Package testutil holds fakes shared by the realtime package tests.
package testutil

import (
	"encoding/json"
	"errors"
	"sync"
)

var ErrSinkFull = errors.New("sink full")

type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Sink records every frame it is sent. Setting Full makes Send fail.
type Sink struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
	Full   bool
}

func NewSink() *Sink { return &Sink{} }

func (s *Sink) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Full || s.closed {
		return ErrSinkFull
	}
	var f Frame
	if err := json.Unmarshal(frame, &f); err != nil {
		return err
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Sink) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Sink) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

// Events lists received event names in order.
func (s *Sink) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Event
	}
	return out
}

// Named returns the frames whose event equals name.
func (s *Sink) Named(name string) []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Frame
	for _, f := range s.frames {
		if f.Event == name {
			out = append(out, f)
		}
	}
	return out
}

func (s *Sink) Count(name string) int { return len(s.Named(name)) }

func (s *Sink) Reset() {
	s.mu.Lock()
	s.frames = nil
	s.mu.Unlock()
}

// Decode unmarshals the data of f into v and panics on malformed data.
func Decode[T any](f Frame) T {
	var v T
	if err := json.Unmarshal(f.Data, &v); err != nil {
		panic(err)
	}
	return v
}
