package stream

import (
	"bytes"
	"io"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Reader consumes a chunked NDJSON body incrementally. Chunk boundaries do
// not align with lines, so incoming bytes are buffered until a complete
// line is available. Forward-only; a new Reader is needed to re-ingest.
type Reader struct {
	src    io.Reader
	buf    []byte
	chunk  []byte
	eof    bool
	logger *zap.Logger
}

func NewReader(src io.Reader, logger *zap.Logger) *Reader {
	return &Reader{
		src:    src,
		chunk:  make([]byte, 4096),
		logger: logger,
	}
}

// Next returns the next well-formed JSON record. Blank lines are skipped;
// a malformed line is discarded without aborting the stream. A final line
// with no trailing newline is returned before io.EOF.
func (r *Reader) Next() (json.RawMessage, error) {
	for {
		if line, ok := r.takeLine(); ok {
			if len(line) == 0 {
				continue
			}
			if !json.Valid(line) {
				r.logger.Debug("Discarding malformed stream line",
					zap.Int("length", len(line)))
				continue
			}
			return line, nil
		}

		if r.eof {
			rest := bytes.TrimSpace(r.buf)
			r.buf = nil
			if len(rest) > 0 {
				if json.Valid(rest) {
					out := make(json.RawMessage, len(rest))
					copy(out, rest)
					return out, nil
				}
				r.logger.Debug("Discarding malformed stream remainder",
					zap.Int("length", len(rest)))
			}
			return nil, io.EOF
		}

		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.buf = append(r.buf, r.chunk[:n]...)
		}
		if err == io.EOF {
			r.eof = true
		} else if err != nil {
			return nil, err
		}
	}
}

func (r *Reader) takeLine() (json.RawMessage, bool) {
	idx := bytes.IndexByte(r.buf, '\n')
	if idx < 0 {
		return nil, false
	}
	line := bytes.TrimSpace(r.buf[:idx])
	r.buf = r.buf[idx+1:]
	out := make(json.RawMessage, len(line))
	copy(out, line)
	return out, true
}
