package mqtt

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sweeney/adc-pwm-pipeline/internal/coupling"
	"github.com/sweeney/adc-pwm-pipeline/internal/pipeline"
)

type telemetry struct {
	sample   *pipeline.Sample
	cmd      *pipeline.DutyCommand
	writeErr error
}

// Forwarder is a pipeline.Observer that publishes samples and duty commands.
// Observer calls only enqueue; Run does the publishing on its own goroutine
// so the pipeline tasks never wait on the broker.
type Forwarder struct {
	pipeline.NopObserver

	pub   Publisher
	queue *coupling.Queue[telemetry]
	log   zerolog.Logger
}

// NewForwarder creates a forwarder publishing through pub.
func NewForwarder(pub Publisher, log zerolog.Logger) *Forwarder {
	return &Forwarder{
		pub:   pub,
		queue: coupling.NewQueue[telemetry](),
		log:   log,
	}
}

func (f *Forwarder) Sampled(s pipeline.Sample) {
	f.queue.Send(telemetry{sample: &s})
}

func (f *Forwarder) Actuated(cmd pipeline.DutyCommand, err error) {
	f.queue.Send(telemetry{cmd: &cmd, writeErr: err})
}

// Pending returns the number of messages not yet handed to the publisher.
func (f *Forwarder) Pending() int {
	return f.queue.Len()
}

// Run publishes queued telemetry until ctx is done, then flushes what is
// left. A publish error means the publisher did not keep the message; it is
// logged and dropped. Messages published during a broker outage are held
// by the publisher and do not return an error.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		t, err := f.queue.Receive(ctx)
		if err != nil {
			break
		}
		f.forward(t)
	}

	// Receive still pops pending items after cancellation.
	for f.queue.Len() > 0 {
		t, err := f.queue.Receive(ctx)
		if err != nil {
			break
		}
		f.forward(t)
	}
	return nil
}

func (f *Forwarder) forward(t telemetry) {
	var err error
	switch {
	case t.sample != nil:
		err = f.pub.PublishSample(*t.sample)
	case t.cmd != nil:
		err = f.pub.PublishDuty(*t.cmd, t.writeErr)
	}
	if err != nil {
		f.log.Warn().Err(err).Msg("telemetry publish failed, message dropped")
	}
}
