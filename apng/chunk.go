package apng

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
)

const signature = "\x89PNG\r\n\x1a\n"

const (
	chunkIHDR = "IHDR"
	chunkPLTE = "PLTE"
	chunkTRNS = "tRNS"
	chunkIDAT = "IDAT"
	chunkIEND = "IEND"
	chunkACTL = "acTL"
	chunkFCTL = "fcTL"
	chunkFDAT = "fdAT"
)

// maxChunkSize guards against length fields pointing past any sane payload.
const maxChunkSize = 1 << 28

type chunk struct {
	typ  string
	data []byte
}

type chunkReader struct {
	r   io.Reader
	buf [8]byte
}

func (r *chunkReader) signature() error {
	if _, err := io.ReadFull(r.r, r.buf[:8]); err != nil {
		return errors.Wrap(err, "read signature")
	}

	if string(r.buf[:8]) != signature {
		return ErrNotPNG
	}

	return nil
}

func (r *chunkReader) next() (chunk, error) {
	if _, err := io.ReadFull(r.r, r.buf[:8]); err != nil {
		if err == io.EOF {
			return chunk{}, errors.Wrap(io.ErrUnexpectedEOF, "missing IEND")
		}

		return chunk{}, errors.Wrap(err, "read chunk header")
	}

	length := binary.BigEndian.Uint32(r.buf[:4])
	if length > maxChunkSize {
		return chunk{}, errors.Errorf("chunk too large: %d", length)
	}

	c := chunk{typ: string(r.buf[4:8]), data: make([]byte, length)}
	if _, err := io.ReadFull(r.r, c.data); err != nil {
		return chunk{}, errors.Wrapf(err, "read %s", c.typ)
	}

	if _, err := io.ReadFull(r.r, r.buf[:4]); err != nil {
		return chunk{}, errors.Wrapf(err, "read %s checksum", c.typ)
	}

	crc := crc32.NewIEEE()
	_, _ = crc.Write([]byte(c.typ))
	_, _ = crc.Write(c.data)
	if crc.Sum32() != binary.BigEndian.Uint32(r.buf[:4]) {
		return chunk{}, errors.Errorf("%s checksum mismatch", c.typ)
	}

	return c, nil
}

func writeChunk(w *bytes.Buffer, typ string, data []byte) {
	var header [8]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(data)))
	copy(header[4:], typ)
	w.Write(header[:])
	w.Write(data)

	crc := crc32.NewIEEE()
	_, _ = crc.Write(header[4:])
	_, _ = crc.Write(data)

	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	w.Write(sum[:])
}
