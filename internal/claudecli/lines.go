package claudecli

import "bytes"

// LineParser splits a byte stream on newlines and classifies every
// complete, non-blank line. A trailing partial line is held until more
// bytes arrive or Flush is called, so the events produced do not depend on
// how the stream was chunked.
type LineParser struct {
	buf  []byte
	emit func(line []byte, ev Event)
}

// NewLineParser returns a parser that hands each event to emit, together
// with the line it was classified from.
func NewLineParser(emit func(line []byte, ev Event)) *LineParser {
	return &LineParser{emit: emit}
}

// Write implements io.Writer. It never returns an error.
func (p *LineParser) Write(b []byte) (int, error) {
	p.buf = append(p.buf, b...)
	start := 0
	for {
		i := bytes.IndexByte(p.buf[start:], '\n')
		if i < 0 {
			break
		}
		p.dispatch(p.buf[start : start+i])
		start += i + 1
	}
	if start > 0 {
		n := copy(p.buf, p.buf[start:])
		p.buf = p.buf[:n]
	}
	return len(b), nil
}

// Flush classifies whatever is buffered as a final line.
func (p *LineParser) Flush() {
	if len(p.buf) == 0 {
		return
	}
	rest := p.buf
	p.buf = nil
	p.dispatch(rest)
}

func (p *LineParser) dispatch(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	// The buffer is reused, so the event must not alias it.
	owned := bytes.Clone(line)
	p.emit(owned, Classify(owned))
}
