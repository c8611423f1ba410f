package device

import (
	"context"
	"errors"
	"testing"
)

func TestSQLiteRepository_GetByPK(t *testing.T) {
	r, repo := newTestResolver(t)
	ctx := context.Background()

	res, err := r.Resolve(ctx, Handshake{DeviceID: "ESP-1/grp", Secret: "s"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	d, err := repo.GetByPK(ctx, res.Primary())
	if err != nil {
		t.Fatalf("GetByPK() error = %v", err)
	}
	if d.Kind != KindSwitch || d.GroupUID != "grp" {
		t.Errorf("GetByPK() = %+v", d)
	}
	if !d.CreatedAt.Equal(fixedNow) {
		t.Errorf("CreatedAt = %v, want %v", d.CreatedAt, fixedNow)
	}

	if _, err := repo.GetByPK(ctx, 9999); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByPK(9999) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_ListByGroup(t *testing.T) {
	r, repo := newTestResolver(t)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, Handshake{DeviceID: "ESP-3-R-1/a", Secret: "s"}); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, err := r.Resolve(ctx, Handshake{DeviceID: "ESP-I/b", Secret: "s"}); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	devices, err := repo.ListByGroup(ctx, "a")
	if err != nil {
		t.Fatalf("ListByGroup() error = %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("got %d devices, want 3", len(devices))
	}
	if devices[0].Kind != KindRGB || *devices[1].Pin != 1 || *devices[2].Pin != 3 {
		t.Errorf("order = %s, %v, %v", devices[0].Kind, devices[1].Pin, devices[2].Pin)
	}

	none, err := repo.ListByGroup(ctx, "missing")
	if err != nil {
		t.Fatalf("ListByGroup() error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("got %d devices for unknown group", len(none))
	}
}
