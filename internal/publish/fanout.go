package publish

import (
	"context"
	"errors"
	"fmt"

	"visionedge/internal/inference"
)

type namedSink struct {
	name string
	sink inference.Publisher
}

// Fanout publishes each packet to every registered sink in order.
type Fanout struct {
	sinks []namedSink
}

// NewFanout returns an empty fanout.
func NewFanout() *Fanout { return &Fanout{} }

// Add registers sink under name. Nil sinks are ignored.
func (f *Fanout) Add(name string, sink inference.Publisher) *Fanout {
	if sink != nil {
		f.sinks = append(f.sinks, namedSink{name: name, sink: sink})
	}
	return f
}

// Names lists the registered sinks.
func (f *Fanout) Names() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.name
	}
	return names
}

func (f *Fanout) Publish(ctx context.Context, topic string, pkt inference.Packet) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.sink.Publish(ctx, topic, pkt); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
