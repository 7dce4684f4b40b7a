package device

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nace/diskimg/internal/udisks"
)

func TestLoopManagerAttach(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "disk.img")
	if err := os.WriteFile(img, make([]byte, 4096), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		writable bool
		wantRO   bool
	}{
		{"read-only by default", false, true},
		{"writable", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newMockClient()
			client.nextLoop = "/block/loop7"
			m := NewLoopManager(client, nil)

			obj, err := m.Attach(context.Background(), img, tt.writable)
			if err != nil {
				t.Fatalf("Attach() error = %v", err)
			}
			if obj.Path != "/block/loop7" || obj.DeviceName() != "/dev/loop7" {
				t.Errorf("Attach() = %s (%s)", obj.Path, obj.DeviceName())
			}
			if client.loopSetupRO != tt.wantRO {
				t.Errorf("LoopSetup readOnly = %v, want %v", client.loopSetupRO, tt.wantRO)
			}
			if client.loopSetupFile != img {
				t.Errorf("LoopSetup file = %q, want %q", client.loopSetupFile, img)
			}
		})
	}
}

func TestLoopManagerAttachMissingFile(t *testing.T) {
	m := NewLoopManager(newMockClient(), nil)
	if _, err := m.Attach(context.Background(), filepath.Join(t.TempDir(), "nope.img"), false); err == nil {
		t.Fatal("Attach() error = nil, want open failure")
	}
}

func TestLoopManagerDetach(t *testing.T) {
	client := newMockClient(encryptedLoopImage(true)...)
	m := NewLoopManager(client, nil)

	if err := m.Detach(context.Background(), "/block/loop0"); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	if client.deletedLoopPath != "/block/loop0" {
		t.Errorf("deleted %q, want /block/loop0", client.deletedLoopPath)
	}
	if last := client.calls[len(client.calls)-1]; last != "DeleteLoop /block/loop0" {
		t.Errorf("last call = %q, want DeleteLoop after release", last)
	}
}

func TestLoopManagerDetachStopsOnUnuseFailure(t *testing.T) {
	client := newMockClient(encryptedLoopImage(false)...)
	client.unmountErr = &udisks.Error{Name: udisks.ErrorNotAuthorizedDismissed}
	m := NewLoopManager(client, nil)

	err := m.Detach(context.Background(), "/block/loop0")
	if !udisks.IsDismissed(err) {
		t.Fatalf("Detach() error = %v, want dismissed manager error", err)
	}
	if n := client.countCalls("DeleteLoop"); n != 0 {
		t.Errorf("DeleteLoop called %d times after failed release", n)
	}
}

func TestLoopManagerQueries(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "disk.img")
	if err := os.WriteFile(img, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	resolved, err := filepath.EvalSymlinks(img)
	if err != nil {
		t.Fatal(err)
	}

	client := newMockClient(
		&udisks.Object{Path: "/block/loop0", Block: &udisks.Block{Device: "/dev/loop0"}, Loop: &udisks.Loop{BackingFile: resolved}},
		&udisks.Object{Path: "/block/loop1", Block: &udisks.Block{Device: "/dev/loop1"}, Loop: &udisks.Loop{}},
		&udisks.Object{Path: "/block/sda", Block: &udisks.Block{Device: "/dev/sda"}},
	)
	m := NewLoopManager(client, nil)

	loops, err := m.FindByFile(context.Background(), img)
	if err != nil {
		t.Fatalf("FindByFile() error = %v", err)
	}
	if len(loops) != 1 || loops[0].Path != "/block/loop0" {
		t.Errorf("FindByFile() = %v, want loop0", loops)
	}

	all, err := m.GetAll(context.Background())
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(all) != 1 || all[0].DeviceName() != "/dev/loop0" || all[0].Loop.BackingFile != resolved {
		t.Errorf("GetAll() = %v", all)
	}
}
