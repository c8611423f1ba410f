// Package command delivers control commands to devices and keeps the books.
//
// Every command is written to the command log before anything is sent:
//
//	Dispatch ──▶ log (sent) ──▶ device connected? ──yes──▶ live control frame
//	                                   │
//	                                   no
//	                                   ▼
//	                           log (queued) + pending queue ──▶ flushed on next handshake
//
// Status lifecycle:
//
//	sent ──ack──▶ ack | failed
//	queued ──flush──▶ sent
//	queued ──expiry──▶ timeout
//	sent ──ack timeout──▶ timeout ──late ack──▶ ack | failed
//
// Delivery is at-most-once per attempt. An ack for a command already in
// ack or failed is ignored.
package command
