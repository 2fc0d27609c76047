// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/rtfmri-foundation/rtfmri/lib/codec"
)

const (
	// Magic marks the start of every header. It detects stream
	// desynchronization and has no security role.
	Magic uint32 = 0xFEEDFEED

	// HeaderSize is the encoded header length.
	HeaderSize = 12

	// MaxPayload is the absolute payload cap.
	MaxPayload = 1 << 20

	// MaxMetadataPayload caps every frame that is not a bulk frame.
	MaxMetadataPayload = 1 << 10

	// PayloadVersion is the current payload schema version.
	PayloadVersion = 1
)

// Message is one protocol message.
type Message struct {
	ID     uint64
	Kind   Kind
	Event  Event
	Fields Fields
	Data   []byte
}

// Header is the decoded fixed-size prefix of a frame.
type Header struct {
	Kind   Kind
	Event  Event
	Length uint32
}

// IsBulk reports whether a frame of this kind and event may use the
// absolute payload cap: trial volume uploads and data file downloads.
func IsBulk(kind Kind, event Event) bool {
	return (kind == KindCommand && event == EventTRData) ||
		(kind == KindReply && event == EventRetrieveData)
}

// PayloadLimit is the payload cap for a frame.
func PayloadLimit(kind Kind, event Event) uint64 {
	if IsBulk(kind, event) {
		return MaxPayload
	}
	return MaxMetadataPayload
}

// ParseHeader validates a raw header. Checks run in order: magic, then
// kind and event ranges, then the size cap.
func ParseHeader(raw []byte) (Header, error) {
	if len(raw) != HeaderSize {
		return Header{}, fmt.Errorf("framing: header is %d bytes, want %d", len(raw), HeaderSize)
	}
	if magic := binary.BigEndian.Uint32(raw[0:4]); magic != Magic {
		return Header{}, &FramingError{Magic: magic}
	}
	header := Header{
		Kind:   Kind(binary.BigEndian.Uint16(raw[4:6])),
		Event:  Event(binary.BigEndian.Uint16(raw[6:8])),
		Length: binary.BigEndian.Uint32(raw[8:12]),
	}
	if !header.Kind.Valid() {
		return Header{}, &RangeError{Field: "kind", Value: uint16(header.Kind)}
	}
	if !header.Event.Valid() {
		return Header{}, &RangeError{Field: "event", Value: uint16(header.Event)}
	}
	if err := checkSize(header.Kind, header.Event, uint64(header.Length)); err != nil {
		return Header{}, err
	}
	return header, nil
}

func checkSize(kind Kind, event Event, length uint64) error {
	if limit := PayloadLimit(kind, event); length > limit {
		return &SizeError{Kind: kind, Event: event, Length: length, Limit: limit}
	}
	return nil
}

// envelope is the CBOR payload layout.
type envelope struct {
	Version uint   `cbor:"v"`
	ID      uint64 `cbor:"id"`
	Fields  Fields `cbor:"f"`
	Data    []byte `cbor:"d,omitempty"`
}

// DecodePayload decodes the payload that followed header.
func DecodePayload(header Header, payload []byte) (Message, error) {
	if uint64(len(payload)) != uint64(header.Length) {
		return Message{}, fmt.Errorf("payload: got %d bytes, header declared %d", len(payload), header.Length)
	}
	var decoded envelope
	if err := codec.Unmarshal(payload, &decoded); err != nil {
		return Message{}, &PayloadError{Err: err}
	}
	if decoded.Version != PayloadVersion {
		return Message{}, &PayloadError{Err: fmt.Errorf("unsupported schema version %d", decoded.Version)}
	}
	return Message{
		ID:     decoded.ID,
		Kind:   header.Kind,
		Event:  header.Event,
		Fields: decoded.Fields,
		Data:   decoded.Data,
	}, nil
}

// Encode returns the complete frame for m. The same range and size
// rules as ParseHeader apply, so an oversized message is rejected by
// the sender rather than the receiver.
func Encode(m Message) ([]byte, error) {
	if !m.Kind.Valid() {
		return nil, &RangeError{Field: "kind", Value: uint16(m.Kind)}
	}
	if !m.Event.Valid() {
		return nil, &RangeError{Field: "event", Value: uint16(m.Event)}
	}
	payload, err := codec.Marshal(envelope{
		Version: PayloadVersion,
		ID:      m.ID,
		Fields:  m.Fields,
		Data:    m.Data,
	})
	if err != nil {
		return nil, &PayloadError{Err: err}
	}
	if err := checkSize(m.Kind, m.Event, uint64(len(payload))); err != nil {
		return nil, err
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], Magic)
	binary.BigEndian.PutUint16(frame[4:6], uint16(m.Kind))
	binary.BigEndian.PutUint16(frame[6:8], uint16(m.Event))
	binary.BigEndian.PutUint32(frame[8:12], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// WriteMessage encodes m and writes the frame with a single Write.
func WriteMessage(w io.Writer, m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadMessage reads one frame from r: exactly HeaderSize bytes, then,
// only if the header is valid, exactly the declared payload. A stream
// that ends cleanly before the header returns io.EOF; one that ends
// mid-frame returns io.ErrUnexpectedEOF.
func ReadMessage(r io.Reader) (Message, error) {
	var raw [HeaderSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return Message{}, err
	}
	header, err := ParseHeader(raw[:])
	if err != nil {
		return Message{}, err
	}
	payload := make([]byte, header.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Message{}, err
	}
	return DecodePayload(header, payload)
}

// IsFramingFault reports whether err means the byte stream can no
// longer be trusted and the channel must be closed.
func IsFramingFault(err error) bool {
	var (
		framing *FramingError
		ranged  *RangeError
		sized   *SizeError
		payload *PayloadError
	)
	return errors.As(err, &framing) || errors.As(err, &ranged) ||
		errors.As(err, &sized) || errors.As(err, &payload)
}
