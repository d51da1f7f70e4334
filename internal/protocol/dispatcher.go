package protocol

import (
	"sync"

	"github.com/soyeahso/wayfarer/internal/logging"
	"github.com/soyeahso/wayfarer/internal/metrics"
)

// Handler consumes a decoded event.
type Handler func(Event)

// Dispatcher routes decoded events to exactly one handler per tag. Frames are
// handled synchronously in the order HandleFrame is called.
type Dispatcher struct {
	decoder *Decoder
	log     *logging.Logger

	mu            sync.RWMutex
	handlers      map[string]Handler
	onDecodeError func(error)
}

// NewDispatcher creates a dispatcher backed by the given decoder.
func NewDispatcher(dec *Decoder, log *logging.Logger) *Dispatcher {
	if dec == nil {
		dec = NewDecoder(nil)
	}
	return &Dispatcher{
		decoder:  dec,
		log:      log.Sub("protocol"),
		handlers: make(map[string]Handler),
	}
}

// On registers the handler for a tag, replacing any previous one. Aliased
// spellings register under the canonical tag.
func (d *Dispatcher) On(tag string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[d.decoder.Canonical(tag)] = h
}

// Off removes the handler for a tag.
func (d *Dispatcher) Off(tag string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, d.decoder.Canonical(tag))
}

// OnDecodeError sets a callback for frames that fail to decode.
func (d *Dispatcher) OnDecodeError(fn func(error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDecodeError = fn
}

// Dispatch invokes the handler for ev. It reports false when no handler is
// registered for the tag.
func (d *Dispatcher) Dispatch(ev Event) bool {
	d.mu.RLock()
	h := d.handlers[ev.Tag]
	d.mu.RUnlock()

	if h == nil {
		metrics.UnknownTags.WithLabelValues(ev.Tag).Inc()
		d.log.Warn().Str("tag", ev.Tag).Msg("no handler for event, ignoring")
		return false
	}
	h(ev)
	return true
}

// HandleFrame decodes and dispatches one raw frame. Decode failures are
// logged and reported to the decode error callback; they never stop the stream.
func (d *Dispatcher) HandleFrame(raw []byte) {
	ev, err := d.decoder.Decode(raw)
	if err != nil {
		metrics.DecodeErrors.Inc()
		d.log.Warn().Err(err).Msg("dropping malformed frame")
		d.mu.RLock()
		fn := d.onDecodeError
		d.mu.RUnlock()
		if fn != nil {
			fn(err)
		}
		return
	}
	metrics.FramesDecoded.WithLabelValues(ev.Tag).Inc()
	d.log.Trace().Str("tag", ev.Tag).Msg("frame decoded")
	d.Dispatch(ev)
}
