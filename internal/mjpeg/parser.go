// Package mjpeg splits a concatenated MJPEG byte stream into JPEG frames.
package mjpeg

import (
	"bytes"
	"log/slog"
	"time"

	"visionedge/internal/config"
	"visionedge/internal/logging"
)

var (
	soiMarker = []byte{0xFF, 0xD8}
	eoiMarker = []byte{0xFF, 0xD9}
)

// Frame is one complete SOI..EOI span.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

// Options configures frame extraction.
type Options struct {
	// HeaderSkip is how far past SOI the EOI search starts. JPEG headers can
	// carry FFD9 byte pairs (thumbnails, tables) that are not the frame end.
	HeaderSkip int
	// MaxPendingBytes bounds an in-progress frame; exceeding it drops the frame.
	MaxPendingBytes int
	// Lookback keeps a trailing 0xFF between reads so an SOI split across two
	// reads is still found. Without it such a frame is skipped.
	Lookback bool
}

// OptionsFromConfig maps the [mjpeg] config section onto parser options.
func OptionsFromConfig(cfg config.MJPEG) Options {
	return Options{
		HeaderSkip:      cfg.HeaderSkip,
		MaxPendingBytes: cfg.MaxPendingBytes,
		Lookback:        cfg.SOILookback,
	}
}

// Parser extracts frames from stdout reads of the capture subprocess.
// A Parser belongs to one subprocess generation and is not safe for concurrent use.
type Parser struct {
	headerSkip int
	maxPending int
	lookback   bool
	emit       func(Frame)
	logger     *slog.Logger
	now        func() time.Time

	pending []byte
	carry   bool

	emitted uint64
	dropped uint64
}

// NewParser builds a parser that hands each completed Frame to emit.
func NewParser(opts Options, emit func(Frame), logger *slog.Logger) *Parser {
	if opts.HeaderSkip < 0 {
		opts.HeaderSkip = 0
	}
	if opts.MaxPendingBytes <= 0 {
		opts.MaxPendingBytes = config.DefaultMaxPendingBytes
	}
	if emit == nil {
		emit = func(Frame) {}
	}
	return &Parser{
		headerSkip: opts.HeaderSkip,
		maxPending: opts.MaxPendingBytes,
		lookback:   opts.Lookback,
		emit:       emit,
		logger:     logging.NewComponentLogger(logger, "mjpeg-parser"),
		now:        time.Now,
	}
}

// Feed consumes one stdout chunk, emitting every frame it completes.
func (p *Parser) Feed(chunk []byte) {
	data := chunk
	if p.carry {
		p.carry = false
		data = append([]byte{0xFF}, chunk...)
	}

	for len(data) > 0 {
		if p.pending == nil {
			data = p.scanIdle(data)
		} else {
			data = p.scanPending(data)
		}
	}
}

// scanIdle looks for a frame start and returns the unconsumed remainder.
func (p *Parser) scanIdle(data []byte) []byte {
	start := bytes.Index(data, soiMarker)
	if start < 0 {
		if p.lookback && data[len(data)-1] == 0xFF {
			p.carry = true
		}
		return nil
	}
	data = data[start:]

	from := max(p.headerSkip, len(soiMarker))
	if from < len(data) {
		if idx := bytes.Index(data[from:], eoiMarker); idx >= 0 {
			end := from + idx + len(eoiMarker)
			p.deliver(bytes.Clone(data[:end]))
			return data[end:]
		}
	}

	if len(data) > p.maxPending {
		p.overflow(len(data))
		return nil
	}
	p.pending = append(make([]byte, 0, 2*len(data)), data...)
	return nil
}

// scanPending searches a new chunk for the end of the in-progress frame.
func (p *Parser) scanPending(data []byte) []byte {
	from := max(p.headerSkip, len(soiMarker)) - len(p.pending)
	if from <= 0 {
		from = 0
		// EOI split between the previous read and this one.
		last := len(p.pending) - 1
		if last >= max(p.headerSkip, len(soiMarker)) && p.pending[last] == eoiMarker[0] && data[0] == eoiMarker[1] {
			frame := append(p.pending, data[0])
			p.pending = nil
			p.deliver(frame)
			return data[1:]
		}
	}

	if from < len(data) {
		if idx := bytes.Index(data[from:], eoiMarker); idx >= 0 {
			end := from + idx + len(eoiMarker)
			frame := append(p.pending, data[:end]...)
			p.pending = nil
			p.deliver(frame)
			return data[end:]
		}
	}

	if len(p.pending)+len(data) > p.maxPending {
		p.overflow(len(p.pending) + len(data))
		return nil
	}
	p.pending = append(p.pending, data...)
	return nil
}

func (p *Parser) deliver(data []byte) {
	p.emitted++
	p.emit(Frame{Data: data, CapturedAt: p.now()})
}

func (p *Parser) overflow(size int) {
	p.dropped++
	logging.WarnWithContext(p.logger, "frame exceeded pending limit; dropping partial frame", "mjpeg_overflow",
		logging.Int("pending_bytes", size),
		logging.Int("max_pending_bytes", p.maxPending),
		logging.String(logging.FieldErrorHint, "check the capture pipeline emits complete JPEG frames"),
		logging.String(logging.FieldImpact, "one video frame skipped"),
	)
	p.Reset()
}

// Reset drops any in-progress frame.
func (p *Parser) Reset() {
	p.pending = nil
	p.carry = false
}

// InProgress reports whether a partial frame is buffered.
func (p *Parser) InProgress() bool { return p.pending != nil }

// PendingLen returns the size of the buffered partial frame.
func (p *Parser) PendingLen() int { return len(p.pending) }

// Emitted returns the number of frames delivered.
func (p *Parser) Emitted() uint64 { return p.emitted }

// Dropped returns the number of partial frames discarded for exceeding the limit.
func (p *Parser) Dropped() uint64 { return p.dropped }
