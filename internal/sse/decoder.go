// Package sse decodes OpenAI-style chat completion event streams into content fragments.
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
	readSize     = 4 * 1024
)

type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type lineState int

const (
	lineSkip lineState = iota
	lineFragment
	lineDone
	lineIncomplete
)

// Decoder is a resumable parser over a byte stream. Bytes are buffered and only complete
// lines are decoded, so a rune split across two chunks is reassembled before it is read.
//
// A data line whose JSON does not parse stays at the front of the buffer until more bytes
// arrive. If it still fails once another complete line sits behind it, it is dropped and
// counted in Skipped.
type Decoder struct {
	buf     []byte
	pending bool
	done    bool
	skipped int
}

// Feed appends chunk to the buffer and returns the fragments it completed.
func (d *Decoder) Feed(chunk []byte) []string {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, chunk...)
	return d.drain(false)
}

// Flush processes whatever is left in the buffer as if it were newline-terminated.
// It is called once the transport reports the end of the body.
func (d *Decoder) Flush() []string {
	if d.done || len(d.buf) == 0 {
		return nil
	}
	if d.buf[len(d.buf)-1] != '\n' {
		d.buf = append(d.buf, '\n')
	}
	out := d.drain(true)
	d.buf = nil
	return out
}

// Done reports whether the [DONE] sentinel was seen.
func (d *Decoder) Done() bool {
	return d.done
}

// Skipped returns how many data lines were discarded as malformed.
func (d *Decoder) Skipped() int {
	return d.skipped
}

func (d *Decoder) drain(final bool) []string {
	var out []string
	for !d.done {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}

		fragment, state := parseLine(d.buf[:idx])
		switch state {
		case lineFragment:
			out = append(out, fragment)
		case lineDone:
			d.done = true
			d.buf = nil
			return out
		case lineIncomplete:
			superseded := bytes.IndexByte(d.buf[idx+1:], '\n') >= 0
			if !final && !(d.pending && superseded) {
				d.pending = true
				return out
			}
			d.skipped++
		}

		d.pending = false
		d.buf = d.buf[idx+1:]
	}
	if len(d.buf) == 0 {
		d.buf = d.buf[:0]
	}
	return out
}

func parseLine(line []byte) (string, lineState) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) == 0 || line[0] == ':' {
		return "", lineSkip
	}
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return "", lineSkip
	}

	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if string(payload) == doneSentinel {
		return "", lineDone
	}

	var chunk completionChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return "", lineIncomplete
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return "", lineSkip
	}
	return chunk.Choices[0].Delta.Content, lineFragment
}

// Decode reads r until EOF or the [DONE] sentinel and hands every fragment to onFragment
// in arrival order. It returns the number of malformed data lines it dropped.
func Decode(ctx context.Context, r io.Reader, onFragment func(string)) (int, error) {
	var d Decoder
	buf := make([]byte, readSize)
	for {
		if err := ctx.Err(); err != nil {
			return d.skipped, err
		}

		n, err := r.Read(buf)
		if n > 0 {
			for _, fragment := range d.Feed(buf[:n]) {
				onFragment(fragment)
			}
			if d.Done() {
				return d.skipped, nil
			}
		}
		if errors.Is(err, io.EOF) {
			for _, fragment := range d.Flush() {
				onFragment(fragment)
			}
			return d.skipped, nil
		}
		if err != nil {
			return d.skipped, fmt.Errorf("read event stream failed: %w", err)
		}
	}
}
