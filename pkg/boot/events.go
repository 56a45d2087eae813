package boot

import (
	"io"

	"github.com/cstech/hexboot/pkg/utils"
)

// A Sink receives advisory status and progress events during a session.
// Implementations must not block.
type Sink interface {
	Status(message string)
	Progress(percent float64)
}

// NopSink discards all events.
type NopSink struct{}

// Status implements the Sink interface.
func (NopSink) Status(string) {}

// Progress implements the Sink interface.
func (NopSink) Progress(float64) {}

// SinkFuncs adapts plain functions to a sink. Nil functions are skipped.
type SinkFuncs struct {
	StatusFunc   func(string)
	ProgressFunc func(float64)
}

// Status implements the Sink interface.
func (s SinkFuncs) Status(message string) {
	if s.StatusFunc != nil {
		s.StatusFunc(message)
	}
}

// Progress implements the Sink interface.
func (s SinkFuncs) Progress(percent float64) {
	if s.ProgressFunc != nil {
		s.ProgressFunc(percent)
	}
}

// WriterSink returns a sink that logs status lines to the provided writer
// and discards progress.
func WriterSink(out io.Writer) Sink {
	return SinkFuncs{
		StatusFunc: func(message string) {
			utils.Log(out, message)
		},
	}
}
