// Package connection maps logical device ids to the live device
// connection currently serving them.
//
// One physical connection serves several logical devices, and a device
// that reconnects gets a new connection before the old one has finished
// closing. Bind therefore overwrites, and Unbind only removes ids that
// still point at the connection being torn down:
//
//	t0  conn A binds [5 6 7]        5,6,7 → A
//	t1  conn B binds [5 6 7]        5,6,7 → B   (A is stale)
//	t2  conn A closes, Unbind(A)    5,6,7 → B   (untouched)
//
// The Registry is the only in-memory shared state of the core; every
// method is atomic with respect to the others.
package connection
