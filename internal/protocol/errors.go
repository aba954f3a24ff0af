package protocol

// WireCode is an on-the-wire error code, negative by convention so it
// can never collide with a positive command byte when both appear in
// the same varint-ish field (§6).
type WireCode int8

const (
	ErrSerialize                          WireCode = -41
	ErrDatagramFromDisconnectedConnection WireCode = -42
	ErrOutOfParticipantMemory             WireCode = -43
	ErrSerializeVersion                   WireCode = -44
	ErrSessionFull                        WireCode = -54
)

func (c WireCode) String() string {
	switch c {
	case ErrSerialize:
		return "ErrSerialize"
	case ErrDatagramFromDisconnectedConnection:
		return "ErrDatagramFromDisconnectedConnection"
	case ErrOutOfParticipantMemory:
		return "ErrOutOfParticipantMemory"
	case ErrSerializeVersion:
		return "ErrSerializeVersion"
	case ErrSessionFull:
		return "ErrSessionFull"
	default:
		return "ErrUnknown"
	}
}
