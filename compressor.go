package kvlite

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Compressor wraps a writable/readable stream with compression (spec
// §4.4). Streams must flush deterministically on close.
type Compressor interface {
	// CompressStream wraps sink: bytes written to the returned
	// io.WriteCloser are compressed into sink. Close must be called to
	// flush the final frame.
	CompressStream(sink io.Writer) (io.WriteCloser, error)

	// DecompressStream wraps source, yielding decompressed bytes.
	// Close must be called to release decoder resources.
	DecompressStream(source io.Reader) (io.ReadCloser, error)
}

// ZstdCompressor is the default Compressor, backed by
// github.com/klauspost/compress/zstd. Encoders are pooled because zstd's
// are relatively expensive to construct and the engine creates one per
// compressed payload; DecompressStream builds a new decoder on every call.
type ZstdCompressor struct {
	encoderPool sync.Pool
}

// NewZstdCompressor returns a ready-to-use ZstdCompressor.
func NewZstdCompressor() *ZstdCompressor {
	return &ZstdCompressor{}
}

type pooledEncoder struct {
	enc  *zstd.Encoder
	pool *sync.Pool
}

func (p *pooledEncoder) Write(b []byte) (int, error) {
	return p.enc.Write(b)
}

func (p *pooledEncoder) Close() error {
	err := p.enc.Close()
	p.pool.Put(p.enc)

	return err
}

// CompressStream implements Compressor.
func (c *ZstdCompressor) CompressStream(sink io.Writer) (io.WriteCloser, error) {
	pooled := c.encoderPool.Get()

	if pooled == nil {
		enc, err := zstd.NewWriter(sink, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("compress stream: %w", err)
		}

		return &pooledEncoder{enc: enc, pool: &c.encoderPool}, nil
	}

	enc, _ := pooled.(*zstd.Encoder)
	enc.Reset(sink)

	return &pooledEncoder{enc: enc, pool: &c.encoderPool}, nil
}

// DecompressStream implements Compressor.
func (c *ZstdCompressor) DecompressStream(source io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(source)
	if err != nil {
		return nil, fmt.Errorf("decompress stream: %w", err)
	}

	return dec.IOReadCloser(), nil
}

// compressIfNeeded re-emits buf through compressor when buf exceeds
// threshold, per spec §4.4/§4.8 step 4. It returns the bytes to store and
// whether they were compressed.
func compressIfNeeded(compressor Compressor, buf *bytes.Buffer, threshold int) ([]byte, bool, error) {
	if buf.Len() <= threshold {
		return buf.Bytes(), false, nil
	}

	compressed := new(bytes.Buffer)

	w, err := compressor.CompressStream(compressed)
	if err != nil {
		return nil, false, fmt.Errorf("compress payload: %w", err)
	}

	_, err = w.Write(buf.Bytes())
	if err != nil {
		_ = w.Close()

		return nil, false, fmt.Errorf("compress payload: %w", err)
	}

	err = w.Close()
	if err != nil {
		return nil, false, fmt.Errorf("compress payload: %w", err)
	}

	return compressed.Bytes(), true, nil
}

// decompressIfNeeded reverses compressIfNeeded on the read path.
func decompressIfNeeded(compressor Compressor, payload []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return payload, nil
	}

	r, err := compressor.DecompressStream(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}

	defer func() { _ = r.Close() }()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}

	return out, nil
}
