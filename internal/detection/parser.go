package detection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"visionedge/internal/config"
	"visionedge/internal/logging"
)

// Options configures message framing.
type Options struct {
	HeaderMarker      string
	TerminatorPattern string
	PayloadWidth      int
	MaxMessageBytes   int
}

// OptionsFromConfig maps the [detection] config section onto parser options.
func OptionsFromConfig(cfg config.Detection) Options {
	return Options{
		HeaderMarker:      cfg.HeaderMarker,
		TerminatorPattern: cfg.TerminatorPattern,
		PayloadWidth:      cfg.PayloadWidth,
		MaxMessageBytes:   cfg.MaxMessageBytes,
	}
}

// Parser reassembles detection messages from arbitrarily chunked stdout reads.
// A Parser belongs to one subprocess generation and is not safe for concurrent use.
type Parser struct {
	marker     string
	terminator *regexp.Regexp
	width      int
	maxBytes   int
	emit       func(Event)
	logger     *slog.Logger
	now        func() time.Time

	state    State
	line     []byte
	acc      strings.Builder
	skipping bool

	emitted uint64
	dropped uint64
}

// NewParser builds a parser that hands each decoded Event to emit.
func NewParser(opts Options, emit func(Event), logger *slog.Logger) (*Parser, error) {
	if opts.HeaderMarker == "" {
		opts.HeaderMarker = config.DefaultHeaderMarker
	}
	if opts.TerminatorPattern == "" {
		opts.TerminatorPattern = config.DefaultTerminatorPattern
	}
	if opts.PayloadWidth <= 0 {
		opts.PayloadWidth = config.DefaultPayloadWidth
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = config.DefaultMaxMessageBytes
	}
	terminator, err := regexp.Compile(opts.TerminatorPattern)
	if err != nil {
		return nil, fmt.Errorf("compile terminator pattern: %w", err)
	}
	if emit == nil {
		emit = func(Event) {}
	}
	return &Parser{
		marker:     opts.HeaderMarker,
		terminator: terminator,
		width:      opts.PayloadWidth,
		maxBytes:   opts.MaxMessageBytes,
		emit:       emit,
		logger:     logging.NewComponentLogger(logger, "detection-parser"),
		now:        time.Now,
	}, nil
}

// Feed consumes one stdout chunk. Only complete lines are interpreted; a
// trailing partial line is held until the next chunk completes it. A line
// longer than MaxMessageBytes discards the message it belongs to, whether it
// arrives whole or split across chunks.
func (p *Parser) Feed(chunk []byte) {
	for len(chunk) > 0 {
		idx := bytes.IndexByte(chunk, '\n')
		if idx < 0 {
			if !p.skipping {
				p.line = append(p.line, chunk...)
				if len(p.line) > p.maxBytes {
					p.discardLine()
				}
			}
			return
		}
		if p.skipping {
			p.skipping = false
			chunk = chunk[idx+1:]
			continue
		}
		p.line = append(p.line, chunk[:idx]...)
		chunk = chunk[idx+1:]
		if len(p.line) > p.maxBytes {
			p.discard("line exceeds max message size")
			continue
		}
		line := strings.TrimRight(string(p.line), "\r")
		p.line = p.line[:0]
		p.handleLine(line)
	}
}

// discardLine drops the message and ignores input up to the next newline.
func (p *Parser) discardLine() {
	p.discard("line exceeds max message size")
	p.skipping = true
}

func (p *Parser) handleLine(line string) {
	switch p.state {
	case SeekingHeader:
		idx := strings.Index(line, p.marker)
		if idx < 0 {
			return
		}
		p.acc.Reset()
		p.acc.WriteString(line[idx:])
		p.state = Accumulating
	case Accumulating:
		if p.terminator.MatchString(line) {
			p.finish()
			return
		}
		if len(line) > p.width {
			line = line[len(line)-p.width:]
		}
		p.acc.WriteString(line)
		if p.acc.Len() > p.maxBytes {
			p.discard("message exceeds max message size")
		}
	}
}

func (p *Parser) finish() {
	payload := p.acc.String()
	p.acc.Reset()
	p.state = SeekingHeader

	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		p.dropped++
		logging.WarnWithContext(p.logger, "malformed detection message dropped", "detection_parse_failed",
			logging.Error(err),
			logging.Int("payload_bytes", len(payload)),
			logging.String(logging.FieldErrorHint, "check the detection pipeline output format and payload_width"),
			logging.String(logging.FieldImpact, "one detection message skipped"),
		)
		return
	}
	event.ReceivedAt = p.now()
	p.emitted++
	p.emit(event)
}

func (p *Parser) discard(reason string) {
	p.dropped++
	logging.WarnWithContext(p.logger, "detection message discarded", "detection_overflow",
		logging.String("reason", reason),
		logging.Int("max_bytes", p.maxBytes),
		logging.String(logging.FieldImpact, "one detection message skipped"),
	)
	p.Reset()
}

// Reset drops any partial line or message and returns to SeekingHeader.
func (p *Parser) Reset() {
	p.state = SeekingHeader
	p.line = p.line[:0]
	p.acc.Reset()
	p.skipping = false
}

// State reports the current framing state.
func (p *Parser) State() State { return p.state }

// Emitted returns the number of decoded events handed to emit.
func (p *Parser) Emitted() uint64 { return p.emitted }

// Dropped returns the number of malformed or oversized messages discarded.
func (p *Parser) Dropped() uint64 { return p.dropped }
