package header

import (
	"encoding/binary"
	"fmt"
)

// EncodeRequest serializes h into the first RequestSize bytes of buf.
func EncodeRequest(buf []byte, h *Request) error {
	if len(buf) < RequestSize {
		return fmt.Errorf("encode request into %d bytes: %w", len(buf), ErrShortBuffer)
	}

	binary.BigEndian.PutUint32(buf[0:4], Magic)
	buf[4] = Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], 0)
	binary.BigEndian.PutUint32(buf[8:12], h.ID)
	binary.BigEndian.PutUint32(buf[12:16], h.Cookie)
	binary.BigEndian.PutUint64(buf[16:24], h.ExtraBulk)
	return nil
}

// DecodeRequest parses and verifies a request header from buf.
func DecodeRequest(buf []byte) (*Request, error) {
	if len(buf) < RequestSize {
		return nil, fmt.Errorf("decode request from %d bytes: %w", len(buf), ErrShortBuffer)
	}
	if err := verify(buf); err != nil {
		return nil, err
	}

	return &Request{
		Flags:     buf[5],
		ID:        binary.BigEndian.Uint32(buf[8:12]),
		Cookie:    binary.BigEndian.Uint32(buf[12:16]),
		ExtraBulk: binary.BigEndian.Uint64(buf[16:24]),
	}, nil
}

// EncodeResponse serializes h into the first ResponseSize bytes of buf.
func EncodeResponse(buf []byte, h *Response) error {
	if len(buf) < ResponseSize {
		return fmt.Errorf("encode response into %d bytes: %w", len(buf), ErrShortBuffer)
	}

	binary.BigEndian.PutUint32(buf[0:4], Magic)
	buf[4] = Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], h.Ret)
	binary.BigEndian.PutUint32(buf[8:12], h.Cookie)
	binary.BigEndian.PutUint32(buf[12:16], 0)
	return nil
}

// DecodeResponse parses and verifies a response header from buf.
func DecodeResponse(buf []byte) (*Response, error) {
	if len(buf) < ResponseSize {
		return nil, fmt.Errorf("decode response from %d bytes: %w", len(buf), ErrShortBuffer)
	}
	if err := verify(buf); err != nil {
		return nil, err
	}

	return &Response{
		Flags:  buf[5],
		Ret:    binary.BigEndian.Uint16(buf[6:8]),
		Cookie: binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}

// verify checks the magic and version shared by both frame layouts.
func verify(buf []byte) error {
	if magic := binary.BigEndian.Uint32(buf[0:4]); magic != Magic {
		return fmt.Errorf("magic 0x%08x: %w", magic, ErrBadMagic)
	}
	if buf[4] != Version {
		return fmt.Errorf("version %d: %w", buf[4], ErrBadVersion)
	}
	return nil
}
