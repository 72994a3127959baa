package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// writeFrame writes buf prefixed by its varint length.
func writeFrame(w io.Writer, buf []byte, maxSize int) error {
	if len(buf) > maxSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrTooLargeFrame, len(buf), maxSize)
	}
	prefixed := protowire.AppendVarint(make([]byte, 0, binary.MaxVarintLen64+len(buf)), uint64(len(buf)))
	prefixed = append(prefixed, buf...)
	_, err := w.Write(prefixed)
	return err
}

// readFrame reads one length-prefixed frame, refusing frames larger than
// maxSize before allocating them.
func readFrame(r io.Reader, maxSize int) ([]byte, error) {
	buf := make([]byte, binary.MaxVarintLen64)
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n : n+1])
		if m != 0 {
			n++
			if buf[n-1] < 0x80 {
				break
			}
		}
		if err != nil {
			if err == io.EOF && n > 0 && buf[n-1] < 0x80 {
				break
			}
			return nil, err
		}
	}

	prefix, prefixSize := protowire.ConsumeVarint(buf[:n])
	if err := protowire.ParseError(prefixSize); err != nil {
		return nil, err
	}
	if prefix > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLargeFrame, prefix, maxSize)
	}

	frame := make([]byte, prefix)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}
