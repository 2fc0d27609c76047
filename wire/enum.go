// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "fmt"

// Kind is the message class carried in the header. The numeric values
// are wire constants.
type Kind uint16

const (
	KindNone     Kind = 11
	KindInit     Kind = 12
	KindCommand  Kind = 13
	KindReply    Kind = 14
	KindShutdown Kind = 15

	kindBound Kind = 16
)

// Valid reports whether k is inside the enumeration.
func (k Kind) Valid() bool { return k >= KindNone && k < kindBound }

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInit:
		return "init"
	case KindCommand:
		return "command"
	case KindReply:
		return "reply"
	case KindShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("kind(%d)", uint16(k))
	}
}

// Event is the event type carried in the header.
type Event uint16

const (
	EventNone            Event = 31
	EventSuccess         Event = 32
	EventError           Event = 33
	EventFeedSync        Event = 34
	EventPing            Event = 35
	EventRetrieveData    Event = 36
	EventDeleteData      Event = 37
	EventStartSession    Event = 38
	EventEndSession      Event = 39
	EventStartRun        Event = 40
	EventEndRun          Event = 41
	EventTrainModel      Event = 42
	EventStartBlockGroup Event = 43
	EventEndBlockGroup   Event = 44
	EventStartBlock      Event = 45
	EventEndBlock        Event = 46
	EventTRData          Event = 47
	EventSyncClock       Event = 48

	eventBound Event = 49
)

var eventNames = map[Event]string{
	EventNone:            "NoneType",
	EventSuccess:         "Success",
	EventError:           "Error",
	EventFeedSync:        "FeedSync",
	EventPing:            "Ping",
	EventRetrieveData:    "RetrieveData",
	EventDeleteData:      "DeleteData",
	EventStartSession:    "StartSession",
	EventEndSession:      "EndSession",
	EventStartRun:        "StartRun",
	EventEndRun:          "EndRun",
	EventTrainModel:      "TrainModel",
	EventStartBlockGroup: "StartBlockGroup",
	EventEndBlockGroup:   "EndBlockGroup",
	EventStartBlock:      "StartBlock",
	EventEndBlock:        "EndBlock",
	EventTRData:          "TRData",
	EventSyncClock:       "SyncClock",
}

// Valid reports whether e is inside the enumeration.
func (e Event) Valid() bool { return e >= EventNone && e < eventBound }

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Event(%d)", uint16(e))
}

// OutOfBand reports whether e bypasses hierarchy validation.
func (e Event) OutOfBand() bool {
	switch e {
	case EventNone, EventPing, EventSyncClock, EventFeedSync:
		return true
	}
	return false
}

// Result is the outcome carried by a reply.
type Result uint8

const (
	ResultNone Result = iota
	ResultSuccess
	ResultWarning
	ResultError
)

func (r Result) String() string {
	switch r {
	case ResultNone:
		return "none"
	case ResultSuccess:
		return "success"
	case ResultWarning:
		return "warning"
	case ResultError:
		return "error"
	default:
		return fmt.Sprintf("result(%d)", uint8(r))
	}
}
