package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_defaults(t *testing.T) {
	c := Load()
	if c.Input != "-" || c.Output != "-" {
		t.Errorf("defaults: input=%q output=%q", c.Input, c.Output)
	}
	if c.Service != "default" {
		t.Errorf("service default = %q", c.Service)
	}
	if c.RedisChannel != "tsgate.keys" {
		t.Errorf("redis channel default = %q", c.RedisChannel)
	}
}

func TestLoad_env(t *testing.T) {
	t.Setenv("TSGATE_INPUT", "udp://239.1.2.3:1234")
	t.Setenv("TSGATE_LATENCY", "8ms")
	t.Setenv("TSGATE_PIDS", "0x100, 256, junk, 0x2000")
	t.Setenv("TSGATE_PACE_BITS", "5000000")
	c := Load()
	if c.Input != "udp://239.1.2.3:1234" {
		t.Errorf("input = %q", c.Input)
	}
	if c.Latency != Duration(8*time.Millisecond) {
		t.Errorf("latency = %v", c.Latency)
	}
	// "junk" and the 14-bit PID are skipped; 0x100 and 256 are the same PID
	// given twice.
	if len(c.PIDs) != 2 || c.PIDs[0] != 0x100 || c.PIDs[1] != 0x100 {
		t.Errorf("pids = %v", c.PIDs)
	}
	if c.PaceBits != 5e6 {
		t.Errorf("pace = %v", c.PaceBits)
	}
}

func TestLoad_badEnvFallsBack(t *testing.T) {
	t.Setenv("TSGATE_LATENCY", "soon")
	t.Setenv("TSGATE_PACE_BITS", "fast")
	c := Load()
	if c.Latency != 0 {
		t.Errorf("latency = %v, want 0", c.Latency)
	}
	if c.PaceBits != 0 {
		t.Errorf("pace = %v, want 0", c.PaceBits)
	}
}

func TestApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tsgate.yaml")
	data := `
input: capture.ts
even_cw: "1122334455667788"
latency: 10ms
pids: [256, 257]
metrics_addr: ":9090"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	c := Load()
	c.Output = "out.ts"
	if err := c.ApplyFile(path); err != nil {
		t.Fatalf("ApplyFile: %v", err)
	}
	if c.Input != "capture.ts" {
		t.Errorf("input = %q", c.Input)
	}
	if c.Output != "out.ts" {
		t.Errorf("output overwritten: %q", c.Output)
	}
	if c.EvenCW != "1122334455667788" {
		t.Errorf("even cw = %q", c.EvenCW)
	}
	if c.Latency != Duration(10*time.Millisecond) {
		t.Errorf("latency = %v", c.Latency)
	}
	if len(c.PIDs) != 2 || c.PIDs[0] != 256 || c.PIDs[1] != 257 {
		t.Errorf("pids = %v", c.PIDs)
	}
	if c.MetricsAddr != ":9090" {
		t.Errorf("metrics addr = %q", c.MetricsAddr)
	}
}

func TestApplyFile_missing(t *testing.T) {
	c := Load()
	if err := c.ApplyFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
