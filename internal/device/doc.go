// Package device resolves device handshakes into logical devices.
//
// A physical device connects with a composite id such as
//
//	esp:ESP-I-R-4-2/9f2c1a
//
// The optional "esp:" prefix is dropped, "ESP-I-R-4-2" is the base id and
// "9f2c1a" the group uid. Base id tokens are flags (I, R) or pins (4, 2):
//
//	┌──────────────┐   ParseIdentity   ┌──────────────┐   Resolve   ┌───────────────────────┐
//	│ ESP-I-R-4-2/ │ ───────────────▶  │ flags {I,R}  │ ──────────▶ │ IR   (pin NULL)       │
//	│   9f2c1a     │                   │ pins  [2 4]  │             │ RGB  (pin NULL)       │
//	└──────────────┘                   └──────────────┘             │ SW-1 (pin 2)          │
//	                                                                │ SW-2 (pin 4)          │
//	                                                                └───────────────────────┘
//
// Each logical device is keyed by (group_uid, kind, pin) and is upserted on
// every handshake: existing rows are updated in place, missing ones inserted.
// Rows are never deleted here.
//
// # Key Types
//
//   - Identity: the parsed form of a composite device id
//   - LogicalDevice: one row of the devices table
//   - Resolver: runs the upsert for one handshake inside a transaction
//   - SQLiteRepository: read access for REST collaborators
package device
