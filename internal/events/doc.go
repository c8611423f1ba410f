// Package events bridges the core to the MQTT bus.
//
// Publisher turns registry presence changes and command log transitions
// into MQTT messages. It implements connection.Observer and
// command.Observer, queues internally and never blocks the caller; when
// its buffer is full, events are dropped and counted.
//
// Ingress subscribes to {prefix}/control/+ and dispatches each request
// with source "automation".
package events
