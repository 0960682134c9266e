package relay

import (
	"errors"
	"io"
)

const readSize = 4 << 10

type CopyResult struct {
	// Text is the reassembled response, including text received after the
	// client went away.
	Text       string
	Done       bool
	ClientGone bool
	// Err is the upstream read error, if the stream did not end cleanly.
	Err error
}

// Copy forwards src to dst unchanged, calling flush after each write, and
// feeds the same bytes to p. A failed write marks the client gone but does
// not stop reading: the upstream is drained until it ends or errors so the
// response can still be persisted.
func Copy(dst io.Writer, flush func(), src io.Reader, p *Parser) CopyResult {
	var res CopyResult
	buf := make([]byte, readSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			p.Feed(buf[:n])
			if !res.ClientGone {
				if _, werr := dst.Write(buf[:n]); werr != nil {
					res.ClientGone = true
				} else if flush != nil {
					flush()
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				res.Err = err
			}
			break
		}
	}
	p.Flush()
	res.Text = p.Text()
	res.Done = p.Done()
	return res
}
