// Package rfc4571 implements the 2-byte length-prefixed framing RFC 4571
// defines for carrying STUN/media PDUs over a TCP byte stream.
package rfc4571

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const maxFrameLength = 0xffff

// MaxFrameLength is the largest PDU that can be framed (the length prefix
// is 16 bits).
const MaxFrameLength = maxFrameLength

// Reader reads RFC 4571 framed PDUs from an underlying stream.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadFrame reads exactly one framed PDU, blocking until the full frame
// (length prefix and body) has arrived.
func (fr *Reader) ReadFrame() ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(fr.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteFrame writes a single length-prefixed PDU to w.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameLength {
		return fmt.Errorf("rfc4571: frame of %d bytes exceeds maximum %d", len(payload), maxFrameLength)
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
