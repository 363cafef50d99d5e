package mqtt

import "github.com/rs/zerolog"

// bufferedMsg is a serialized message waiting for the broker.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer holds telemetry published while the broker is unreachable.
// When full, the oldest message gives way to the newest. Not safe for
// concurrent use; RealPublisher guards it with its mutex.
type ringBuffer struct {
	slots   []bufferedMsg
	start   int // oldest message
	count   int
	dropped uint64 // lifetime count of messages displaced by newer ones

	// lostThisOutage is reset on every drain so one outage logs one warning.
	lostThisOutage uint64
	log            zerolog.Logger
}

func newRingBuffer(capacity int, log zerolog.Logger) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{slots: make([]bufferedMsg, capacity), log: log}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	capacity := len(r.slots)
	if r.count < capacity {
		r.slots[(r.start+r.count)%capacity] = msg
		r.count++
		return
	}

	if r.lostThisOutage == 0 {
		r.log.Warn().Int("capacity", capacity).Msg("mqtt buffer full, dropping oldest")
	}
	r.slots[r.start] = msg
	r.start = (r.start + 1) % capacity
	r.dropped++
	r.lostThisOutage++
}

// drainAll empties the buffer, oldest first.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}
	out := make([]bufferedMsg, 0, r.count)
	for r.count > 0 {
		out = append(out, r.slots[r.start])
		r.slots[r.start] = bufferedMsg{}
		r.start = (r.start + 1) % len(r.slots)
		r.count--
	}
	if r.lostThisOutage > 0 {
		r.log.Warn().Uint64("dropped", r.lostThisOutage).Int("replaying", len(out)).Msg("mqtt buffer overflowed during outage")
		r.lostThisOutage = 0
	}
	r.start = 0
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
