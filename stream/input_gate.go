package stream

import "go.uber.org/atomic"

// InputGate multiplexes the input channels of one task instance.
// Poll is only called by the owning task.
type InputGate struct {
	channels []*DataChannel
	next     int
}

// NewInputGate creates a gate over channels. A gate without channels never
// yields anything.
func NewInputGate(channels ...*DataChannel) *InputGate {
	return &InputGate{channels: channels}
}

func (g *InputGate) Channels() []*DataChannel { return g.channels }

// Poll returns the next available element, visiting channels round-robin so
// that a busy channel cannot starve the others. It never blocks.
func (g *InputGate) Poll() (Element, bool) {
	n := len(g.channels)
	for i := 0; i < n; i++ {
		ch := g.channels[(g.next+i)%n]
		if elem, ok := ch.TryPop(); ok {
			g.next = (g.next + i + 1) % n
			return elem, true
		}
	}
	return Element{}, false
}

// OnAvailable runs cb once, as soon as any channel has data.
func (g *InputGate) OnAvailable(cb func()) {
	var fired atomic.Bool
	once := func() {
		if fired.CompareAndSwap(false, true) {
			cb()
		}
	}
	for _, ch := range g.channels {
		ch.OnAvailable(once)
		if fired.Load() {
			return
		}
	}
}
