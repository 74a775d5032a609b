package runtime

import "sync/atomic"

// Holder publishes the currently active generation's Runtime. Only cmd/mucp
// writes it (the initial generation at startup, then the reload warmup
// closure); every HTTP handler and adapter only ever reads through Load, so
// a reload can swap the pointer without any caller observing a torn read.
type Holder struct {
	ptr atomic.Pointer[Runtime]
}

// Load returns the currently active Runtime, or nil before the first
// generation has finished building.
func (h *Holder) Load() *Runtime {
	return h.ptr.Load()
}

// Store publishes rt as the active generation's Runtime.
func (h *Holder) Store(rt *Runtime) {
	h.ptr.Store(rt)
}
