// Package gateway serves the two WebSocket channels of devicelink core.
//
// The device channel (/ws/device) authenticates a physical device from its
// handshake query, resolves it into logical devices, binds them in the
// connection registry and flushes queued commands. Devices then answer
// control frames with acks.
//
// The operator channel (/ws/app) accepts control requests from apps and
// forwards them to the command dispatcher, replying with which delivery
// path the command took.
//
// Both channels share one socket implementation: a read loop in the
// handler goroutine, a write pump owning all writes, and a bounded send
// buffer so callers never block on the network.
package gateway
