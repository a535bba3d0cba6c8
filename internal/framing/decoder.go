// SPDX-License-Identifier: MIT

// Package framing converts the raw byte chunks of a streaming response body
// into complete text lines. Chunk boundaries carry no meaning: a line split
// across any number of chunks is emitted exactly once, when its terminator
// arrives.
package framing

import (
	"bytes"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/danielliaow/assistant-stream/internal/log"
)

// Decoder is a stateful line decoder. It buffers the trailing unterminated
// fragment between Decode calls and converts each complete line from the
// stream's declared charset to UTF-8.
//
// Line splitting happens on the raw bytes before charset conversion, so only
// ASCII-compatible charsets are supported (UTF-8, the ISO 8859 family, the
// Windows codepages). That matches every charset the backend declares.
//
// Not safe for concurrent use; each stream owns its own Decoder.
type Decoder struct {
	buf    []byte
	dec    *encoding.Decoder
	logger zerolog.Logger
}

// NewDecoder creates a Decoder for the given IANA charset name, as declared
// by the transport (e.g. the Content-Type charset parameter). An empty or
// unknown name falls back to UTF-8.
func NewDecoder(charset string) *Decoder {
	logger := log.WithComponent("framing")
	enc := resolveCharset(charset, logger)
	return &Decoder{
		dec:    enc.NewDecoder(),
		logger: logger,
	}
}

func resolveCharset(name string, logger zerolog.Logger) encoding.Encoding {
	name = strings.TrimSpace(name)
	if name == "" {
		return unicode.UTF8
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		logger.Warn().Str(log.FieldCharset, name).Msg("unknown charset, falling back to UTF-8")
		return unicode.UTF8
	}
	return enc
}

// Decode appends one transport chunk and returns every line completed by it,
// in arrival order, with terminators stripped. The trailing fragment (the
// bytes after the last terminator) stays buffered for the next call.
//
// Work is O(len(chunk)) and synchronous; Decode never blocks the producer.
func (d *Decoder) Decode(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		raw := d.buf[:i]
		d.buf = d.buf[i+1:]
		raw = bytes.TrimSuffix(raw, []byte{'\r'})
		lines = append(lines, d.decodeLine(raw))
	}
	return lines
}

func (d *Decoder) decodeLine(raw []byte) string {
	out, err := d.dec.Bytes(raw)
	if err != nil {
		// Charset conversion is best effort: keep the raw bytes rather
		// than lose the line.
		d.logger.Warn().Err(err).Int("bytes", len(raw)).Msg("charset conversion failed, keeping raw line")
		return string(raw)
	}
	return string(out)
}

// Buffered reports the number of bytes held for the next Decode call.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Finish signals end-of-stream. A non-empty unterminated fragment is
// discarded, never emitted: an incomplete event must not reach consumers.
// The backend is expected to terminate every event line; if it ever sends a
// final event without a trailing newline, that event is lost here.
// Finish returns the number of bytes dropped so callers can log it.
func (d *Decoder) Finish() int {
	dropped := len(d.buf)
	if dropped > 0 {
		d.logger.Debug().
			Int("bytes", dropped).
			Msg("discarding unterminated trailing fragment at end of stream")
		d.buf = nil
	}
	return dropped
}
