package keystore

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tsgate.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveLoadKey(t *testing.T) {
	s := openTemp(t)
	if err := s.SaveKey("svc1", "1122334455667788", "8877665544332211"); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	even, odd, err := s.LoadKey("svc1")
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if even != "1122334455667788" || odd != "8877665544332211" {
		t.Errorf("loaded %q/%q", even, odd)
	}
}

func TestSaveKeyUpsert(t *testing.T) {
	s := openTemp(t)
	if err := s.SaveKey("svc1", "1122334455667788", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveKey("svc1", "AABBCCDDEEFF0011", ""); err != nil {
		t.Fatal(err)
	}
	even, odd, err := s.LoadKey("svc1")
	if err != nil {
		t.Fatal(err)
	}
	if even != "AABBCCDDEEFF0011" || odd != "" {
		t.Errorf("loaded %q/%q after upsert", even, odd)
	}
}

func TestLoadKeyNotFound(t *testing.T) {
	s := openTemp(t)
	if _, _, err := s.LoadKey("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPIDs(t *testing.T) {
	s := openTemp(t)
	for _, pid := range []uint16{0x300, 0x100, 0x200, 0x100} {
		if err := s.AddPID("svc1", pid); err != nil {
			t.Fatalf("AddPID: %v", err)
		}
	}
	if err := s.AddPID("other", 0x500); err != nil {
		t.Fatal(err)
	}
	pids, err := s.PIDs("svc1")
	if err != nil {
		t.Fatalf("PIDs: %v", err)
	}
	want := []uint16{0x100, 0x200, 0x300}
	if len(pids) != len(want) {
		t.Fatalf("pids = %v, want %v", pids, want)
	}
	for i := range want {
		if pids[i] != want[i] {
			t.Fatalf("pids = %v, want %v", pids, want)
		}
	}
	if err := s.DelPID("svc1", 0x200); err != nil {
		t.Fatalf("DelPID: %v", err)
	}
	pids, err = s.PIDs("svc1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pids) != 2 {
		t.Errorf("pids after delete = %v", pids)
	}
}
