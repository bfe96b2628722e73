package protocol

import (
	"encoding/binary"
	"encoding/json"

	"github.com/google/uuid"
)

// Frame layout, all multi-byte integers big-endian:
//
//	offset  size  field
//	  0      1    start byte = 0xAA
//	  1      1    message_type
//	  2     16    message UUID
//	 18      1    payload_type
//	 19      2    payload_length N
//	 21      N    payload bytes
const (
	headerLen     = 21
	minFrameLen   = 22
	maxPayloadLen = 65535
)

// Encode serialises a message into its wire frame. It is the lossless inverse
// of Decode for any well-typed message.
func Encode(m *Message) ([]byte, error) {
	var payload []byte
	var err error

	switch m.PayloadType {
	case PayloadJSON:
		payload, err = json.Marshal(m.Payload)
		if err != nil {
			return nil, decodeErr(err)
		}
	case PayloadBinary:
		payload, err = marshalBinaryPayload(m.Type, m.Payload)
		if err != nil {
			return nil, err
		}
	case PayloadText, PayloadProtobuf, PayloadCBOR:
		return nil, frameErr(UnsupportedPayloadType)
	default:
		return nil, frameErr(UnknownPayloadType)
	}

	if len(payload) > maxPayloadLen {
		return nil, frameErr(PayloadTooLarge)
	}

	buf := make([]byte, 0, headerLen+len(payload))
	buf = append(buf, StartByte, byte(m.Type))
	buf = append(buf, m.UUID[:]...)
	buf = append(buf, byte(m.PayloadType))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	return buf, nil
}

// Decode parses one wire frame. The input must contain exactly one frame:
// trailing or missing bytes fail with LengthMismatch.
func Decode(data []byte) (*Message, error) {
	if len(data) < minFrameLen {
		return nil, &FrameError{Kind: ShortFrame, Actual: len(data)}
	}
	if data[0] != StartByte {
		return nil, frameErr(BadStartByte)
	}

	msgType := MessageType(data[1])
	if !msgType.valid() {
		return nil, frameErr(UnknownMessageType)
	}

	id, err := uuid.FromBytes(data[2:18])
	if err != nil {
		return nil, decodeErr(err)
	}

	payloadType := PayloadType(data[18])
	if !payloadType.valid() {
		return nil, frameErr(UnknownPayloadType)
	}

	n := int(binary.BigEndian.Uint16(data[19:21]))
	if len(data) != headerLen+n {
		return nil, &FrameError{Kind: LengthMismatch, Expected: headerLen + n, Actual: len(data)}
	}
	raw := data[headerLen : headerLen+n]

	var payload any
	switch payloadType {
	case PayloadJSON:
		payload = newPayload(msgType)
		if err := json.Unmarshal(raw, payload); err != nil {
			return nil, decodeErr(err)
		}
	case PayloadBinary:
		payload, err = unmarshalBinaryPayload(msgType, raw)
		if err != nil {
			return nil, err
		}
	default:
		// TEXT, PROTOBUF and CBOR are reserved.
		return nil, frameErr(UnsupportedPayloadType)
	}

	return &Message{
		Type:        msgType,
		UUID:        id,
		PayloadType: payloadType,
		Payload:     payload,
	}, nil
}
