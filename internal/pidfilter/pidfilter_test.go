package pidfilter

import "testing"

func TestAddHasDel(t *testing.T) {
	var s Set
	if s.Has(0x100) {
		t.Error("empty set reports membership")
	}
	if err := s.Add(0x100); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(0x1FFF); err != nil {
		t.Fatalf("Add max PID: %v", err)
	}
	if err := s.Add(0); err != nil {
		t.Fatalf("Add PID 0: %v", err)
	}
	if !s.Has(0x100) || !s.Has(0x1FFF) || !s.Has(0) {
		t.Error("added PIDs not reported")
	}
	if s.Len() != 3 {
		t.Errorf("Len = %d, want 3", s.Len())
	}
	if err := s.Del(0x100); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if s.Has(0x100) {
		t.Error("deleted PID still reported")
	}
	if err := s.Del(0x100); err != nil {
		t.Errorf("Del of absent PID: %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

func TestOutOfRange(t *testing.T) {
	var s Set
	if err := s.Add(0x2000); err == nil {
		t.Error("Add accepted a 14-bit PID")
	}
	if err := s.Del(0x2000); err == nil {
		t.Error("Del accepted a 14-bit PID")
	}
	if s.Has(0x2000) {
		t.Error("Has reported an out-of-range PID")
	}
}
