package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// BINARY payloads are defined for the credential-bearing request types that
// constrained clients send before they can speak JSON: CONNECT, REGISTER and
// UNREGISTER. Strings are u8-length-prefixed; capability lists carry a u8
// count; metadata is u16-length-prefixed JSON.

var errTruncated = errors.New("truncated binary payload")

type binWriter struct {
	buf []byte
}

func (w *binWriter) str(s string) error {
	if len(s) > 255 {
		return fmt.Errorf("string field exceeds 255 bytes")
	}
	w.buf = append(w.buf, byte(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

type binReader struct {
	data []byte
	off  int
}

func (r *binReader) u8() (byte, error) {
	if r.off >= len(r.data) {
		return 0, errTruncated
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

func (r *binReader) u16() (int, error) {
	if r.off+2 > len(r.data) {
		return 0, errTruncated
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return int(v), nil
}

func (r *binReader) bytes(n int) ([]byte, error) {
	if r.off+n > len(r.data) {
		return nil, errTruncated
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *binReader) str() (string, error) {
	n, err := r.u8()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	return string(b), err
}

func (r *binReader) done() error {
	if r.off != len(r.data) {
		return fmt.Errorf("%d trailing bytes in binary payload", len(r.data)-r.off)
	}
	return nil
}

func marshalBinaryPayload(t MessageType, payload any) ([]byte, error) {
	w := &binWriter{}
	switch p := payload.(type) {
	case *ConnectPayload:
		if t != MsgConnect {
			break
		}
		if err := w.str(p.ClientID); err != nil {
			return nil, decodeErr(err)
		}
		if err := w.str(p.AuthToken); err != nil {
			return nil, decodeErr(err)
		}
		return w.buf, nil
	case *RegisterPayload:
		if t != MsgRegister {
			break
		}
		for _, s := range []string{p.Version, p.ClientID, p.AuthToken} {
			if err := w.str(s); err != nil {
				return nil, decodeErr(err)
			}
		}
		if len(p.Capabilities) > 255 {
			return nil, decodeErr(fmt.Errorf("too many capabilities"))
		}
		w.buf = append(w.buf, byte(len(p.Capabilities)))
		for _, c := range p.Capabilities {
			if err := w.str(c); err != nil {
				return nil, decodeErr(err)
			}
		}
		if len(p.Metadata) > maxPayloadLen {
			return nil, frameErr(PayloadTooLarge)
		}
		w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(p.Metadata)))
		w.buf = append(w.buf, p.Metadata...)
		return w.buf, nil
	case *UnregisterPayload:
		if t != MsgUnregister {
			break
		}
		for _, s := range []string{p.Version, p.ClientID, p.AuthToken} {
			if err := w.str(s); err != nil {
				return nil, decodeErr(err)
			}
		}
		return w.buf, nil
	}
	return nil, decodeErr(fmt.Errorf("no binary codec for message type %s", t))
}

func unmarshalBinaryPayload(t MessageType, data []byte) (any, error) {
	r := &binReader{data: data}
	switch t {
	case MsgConnect:
		p := &ConnectPayload{}
		var err error
		if p.ClientID, err = r.str(); err != nil {
			return nil, decodeErr(err)
		}
		if p.AuthToken, err = r.str(); err != nil {
			return nil, decodeErr(err)
		}
		if err := r.done(); err != nil {
			return nil, decodeErr(err)
		}
		return p, nil
	case MsgRegister:
		p := &RegisterPayload{}
		var err error
		if p.Version, err = r.str(); err != nil {
			return nil, decodeErr(err)
		}
		if p.ClientID, err = r.str(); err != nil {
			return nil, decodeErr(err)
		}
		if p.AuthToken, err = r.str(); err != nil {
			return nil, decodeErr(err)
		}
		count, err := r.u8()
		if err != nil {
			return nil, decodeErr(err)
		}
		if count > 0 {
			p.Capabilities = make([]string, 0, count)
			for i := 0; i < int(count); i++ {
				c, err := r.str()
				if err != nil {
					return nil, decodeErr(err)
				}
				p.Capabilities = append(p.Capabilities, c)
			}
		}
		n, err := r.u16()
		if err != nil {
			return nil, decodeErr(err)
		}
		if n > 0 {
			meta, err := r.bytes(n)
			if err != nil {
				return nil, decodeErr(err)
			}
			p.Metadata = append(p.Metadata[:0], meta...)
		}
		if err := r.done(); err != nil {
			return nil, decodeErr(err)
		}
		return p, nil
	case MsgUnregister:
		p := &UnregisterPayload{}
		var err error
		if p.Version, err = r.str(); err != nil {
			return nil, decodeErr(err)
		}
		if p.ClientID, err = r.str(); err != nil {
			return nil, decodeErr(err)
		}
		if p.AuthToken, err = r.str(); err != nil {
			return nil, decodeErr(err)
		}
		if err := r.done(); err != nil {
			return nil, decodeErr(err)
		}
		return p, nil
	}
	return nil, decodeErr(fmt.Errorf("no binary codec for message type %s", t))
}
