package device

import (
	"time"
)

// Kind is the category of a logical device.
type Kind string

// Logical device kinds. The string values are stored in the kind column and
// sort in the order the resolver reports devices: IR, RGB, SW.
const (
	KindIR     Kind = "IR"
	KindRGB    Kind = "RGB"
	KindSwitch Kind = "SW"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindIR, KindRGB, KindSwitch:
		return true
	}
	return false
}

// TypeName is the user-facing type stored alongside the kind.
func (k Kind) TypeName() string {
	switch k {
	case KindIR:
		return "ir"
	case KindRGB:
		return "rgb"
	default:
		return "switch"
	}
}

// Icon returns the default icon asset for the kind.
func (k Kind) Icon() string {
	switch k {
	case KindIR:
		return "assets/images/ir.png"
	case KindRGB:
		return "assets/images/color_wheel_icon.png"
	default:
		return "assets/images/switch.png"
	}
}

// Meta status values.
const (
	StatusUnclaimed = "unclaimed"
)

// LogicalDevice is one addressable capability of a physical device.
// PK is the "device_pk" commands are addressed to.
type LogicalDevice struct {
	PK          int64          `json:"id"`
	DeviceID    string         `json:"device_id"`
	BaseID      string         `json:"base_id"`
	GroupUID    string         `json:"group_uid"`
	Kind        Kind           `json:"kind"`
	Pin         *int           `json:"pin"`
	SwitchIndex *int           `json:"sw_index,omitempty"`
	HomeID      *int64         `json:"home_id"`
	RoomID      *int64         `json:"room_id"`
	Name        string         `json:"name"`
	IconPath    string         `json:"icon_path"`
	Type        string         `json:"type"`
	Meta        map[string]any `json:"meta,omitempty"`
	IsActive    bool           `json:"is_active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	secretHash string
}

// Handshake is what a device presents when it connects.
type Handshake struct {
	DeviceID string
	Secret   string
	HomeID   *int64
	RoomID   *int64
	Nickname string
}

// Resolution is the outcome of a successful handshake: every logical device
// of the group, ordered by kind then pin.
type Resolution struct {
	BaseID   string
	GroupUID string
	Devices  []LogicalDevice
}

// IDs returns the device primary keys in resolution order.
func (r *Resolution) IDs() []int64 {
	ids := make([]int64, len(r.Devices))
	for i := range r.Devices {
		ids[i] = r.Devices[i].PK
	}
	return ids
}

// Primary returns the first device primary key in kind/pin order. Zero when
// the resolution is empty.
func (r *Resolution) Primary() int64 {
	if len(r.Devices) == 0 {
		return 0
	}
	return r.Devices[0].PK
}
