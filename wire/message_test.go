// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/rtfmri-foundation/rtfmri/lib/codec"
	"github.com/rtfmri-foundation/rtfmri/lib/fault"
)

func sampleMessages(t *testing.T) []Message {
	t.Helper()
	config, err := codec.Marshal(map[string]any{"delay_ms": 20})
	if err != nil {
		t.Fatalf("Marshal config: %v", err)
	}
	trialPath := IDPath{
		Experiment: NewID(1), Session: NewID(2), Run: NewID(3),
		BlockGroup: NewID(0), Block: NewID(5), Trial: NewID(6),
	}
	var deadlined Fields
	deadlined.Path = trialPath
	deadlined.SetDeadline(time.Unix(1000, 100_000_000))
	deadlined.Config = config

	return []Message{
		{ID: 1, Kind: KindInit, Event: EventNone, Fields: Fields{Model: "base", CodeID: "abc"}},
		{ID: 2, Kind: KindCommand, Event: EventSyncClock},
		{ID: 3, Kind: KindCommand, Event: EventStartSession, Fields: Fields{Path: IDPath{Experiment: NewID(1), Session: NewID(2)}}},
		{ID: 4, Kind: KindCommand, Event: EventTRData, Fields: deadlined, Data: bytes.Repeat([]byte{0xAB}, 64*1024)},
		{ID: 4, Kind: KindReply, Event: EventTRData, Fields: Fields{
			Path: trialPath, Result: ResultWarning, Code: fault.CodeMissedDeadline,
			MissedDeadline: true, RecoveryHandle: "7c9e6679-7425-40de-944b-e07fc1f90ae7",
			Prediction: &Prediction{Volume: 6, CatSep: -0.25}, Lines: []string{"trial 6"},
		}},
		{ID: 9, Kind: KindReply, Event: EventRetrieveData, Fields: Fields{Filename: "out.txt", Compression: "lz4", Size: 10}, Data: []byte("compressed")},
		{ID: 10, Kind: KindShutdown, Event: EventNone},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, original := range sampleMessages(t) {
		t.Run(original.Kind.String()+"/"+original.Event.String(), func(t *testing.T) {
			var buffer bytes.Buffer
			if err := WriteMessage(&buffer, original); err != nil {
				t.Fatalf("WriteMessage: %v", err)
			}
			decoded, err := ReadMessage(&buffer)
			if err != nil {
				t.Fatalf("ReadMessage: %v", err)
			}
			if !reflect.DeepEqual(decoded, original) {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, original)
			}
			if buffer.Len() != 0 {
				t.Errorf("%d bytes left unread", buffer.Len())
			}
		})
	}
}

func TestHeaderLayout(t *testing.T) {
	frame, err := Encode(Message{ID: 1, Kind: KindCommand, Event: EventPing})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0xFE, 0xED, 0xFE, 0xED, 0x00, 13, 0x00, 35}
	if !bytes.Equal(frame[:8], want) {
		t.Errorf("header prefix = % X, want % X", frame[:8], want)
	}
	if length := binary.BigEndian.Uint32(frame[8:12]); int(length) != len(frame)-HeaderSize {
		t.Errorf("declared length %d, actual payload %d", length, len(frame)-HeaderSize)
	}
}

func TestMagicCorruptionAlwaysFramingError(t *testing.T) {
	frame, err := Encode(Message{ID: 1, Kind: KindCommand, Event: EventStartRun})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for position := range 4 {
		for _, flip := range []byte{0x01, 0x80, 0xFF} {
			corrupted := bytes.Clone(frame)
			corrupted[position] ^= flip
			_, err := ReadMessage(bytes.NewReader(corrupted))
			var framing *FramingError
			if !errors.As(err, &framing) {
				t.Fatalf("byte %d ^ %#x: err = %v, want *FramingError", position, flip, err)
			}
		}
	}
}

func TestRangeErrors(t *testing.T) {
	tests := []struct {
		name  string
		kind  uint16
		event uint16
		field string
	}{
		{"kind below", 10, uint16(EventPing), "kind"},
		{"kind above", 16, uint16(EventPing), "kind"},
		{"event below", uint16(KindCommand), 30, "event"},
		{"event above", uint16(KindCommand), 49, "event"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			raw := header(test.kind, test.event, 0)
			_, err := ParseHeader(raw)
			var ranged *RangeError
			if !errors.As(err, &ranged) {
				t.Fatalf("err = %v, want *RangeError", err)
			}
			if ranged.Field != test.field {
				t.Errorf("Field = %q, want %q", ranged.Field, test.field)
			}
		})
	}
}

// countingReader records how many bytes were consumed.
type countingReader struct {
	r    io.Reader
	read int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += n
	return n, err
}

func TestSizeCapBeforePayloadRead(t *testing.T) {
	tests := []struct {
		name   string
		kind   Kind
		event  Event
		length uint32
	}{
		{"absolute cap on bulk", KindCommand, EventTRData, MaxPayload + 1},
		{"metadata cap", KindCommand, EventStartRun, MaxMetadataPayload + 1},
		{"metadata cap on trial reply", KindReply, EventTRData, MaxMetadataPayload + 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			stream := append(header(uint16(test.kind), uint16(test.event), test.length), make([]byte, 64)...)
			reader := &countingReader{r: bytes.NewReader(stream)}
			_, err := ReadMessage(reader)
			var sized *SizeError
			if !errors.As(err, &sized) {
				t.Fatalf("err = %v, want *SizeError", err)
			}
			if reader.read != HeaderSize {
				t.Errorf("read %d bytes, want only the %d header bytes", reader.read, HeaderSize)
			}
		})
	}
}

func TestBulkFramesAcceptLargePayloads(t *testing.T) {
	if _, err := ParseHeader(header(uint16(KindCommand), uint16(EventTRData), MaxPayload)); err != nil {
		t.Errorf("TRData command at the absolute cap: %v", err)
	}
	if _, err := ParseHeader(header(uint16(KindReply), uint16(EventRetrieveData), 512*1024)); err != nil {
		t.Errorf("RetrieveData reply above the metadata cap: %v", err)
	}
}

func TestEncodeRejectsOversizedMetadata(t *testing.T) {
	_, err := Encode(Message{
		Kind: KindCommand, Event: EventStartRun,
		Fields: Fields{Text: string(bytes.Repeat([]byte("x"), MaxMetadataPayload))},
	})
	var sized *SizeError
	if !errors.As(err, &sized) {
		t.Fatalf("err = %v, want *SizeError", err)
	}
}

func TestTruncatedStreams(t *testing.T) {
	if _, err := ReadMessage(bytes.NewReader(nil)); !errors.Is(err, io.EOF) {
		t.Errorf("empty stream: err = %v, want io.EOF", err)
	}
	frame, err := Encode(Message{ID: 1, Kind: KindCommand, Event: EventStartRun})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := ReadMessage(bytes.NewReader(frame[:len(frame)-1])); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("truncated payload: err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestPayloadVersionChecked(t *testing.T) {
	payload, err := codec.Marshal(envelope{Version: 99, ID: 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	stream := append(header(uint16(KindCommand), uint16(EventPing), uint32(len(payload))), payload...)
	_, err = ReadMessage(bytes.NewReader(stream))
	var payloadErr *PayloadError
	if !errors.As(err, &payloadErr) {
		t.Fatalf("err = %v, want *PayloadError", err)
	}
	if !IsFramingFault(err) {
		t.Error("IsFramingFault(PayloadError) = false")
	}
	if IsFramingFault(io.EOF) {
		t.Error("IsFramingFault(io.EOF) = true")
	}
}

func header(kind, event uint16, length uint32) []byte {
	raw := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(raw[0:4], Magic)
	binary.BigEndian.PutUint16(raw[4:6], kind)
	binary.BigEndian.PutUint16(raw[6:8], event)
	binary.BigEndian.PutUint32(raw[8:12], length)
	return raw
}
