// Package audit delivers security events to a sink off the request path.
//
// The [Dispatcher] buffers events in a channel and relays them from one
// goroutine; it either blocks or drops when the buffer is full. Sinks
// shipped here write to a channel, to an io.Writer as JSON lines, or to a
// slog.Logger. Deciding which events exist is the caller's business.
package audit
