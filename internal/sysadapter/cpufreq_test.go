package sysadapter

import "testing"

func TestEPBPathFormat(t *testing.T) {
	got := EPBPath(3)
	want := "/sys/devices/system/cpu/cpu3/power/energy_perf_bias"
	if got != want {
		t.Fatalf("EPBPath(3) = %q, want %q", got, want)
	}
}

func TestReadEPBMissingFileReturnsEmptyNoError(t *testing.T) {
	// A CPU index this large never exists, so the file is absent; ReadEPB
	// should report that as "no such knob" rather than an error.
	val, err := ReadEPB(999999)
	if err != nil {
		t.Fatalf("expected nil error for an absent epb file, got %v", err)
	}
	if val != "" {
		t.Fatalf("expected empty value for an absent epb file, got %q", val)
	}
}

func TestWriteEPBMissingFileIsNoOp(t *testing.T) {
	if err := WriteEPB(999999, EPBPerformance); err != nil {
		t.Fatalf("expected WriteEPB to no-op when the file is absent, got %v", err)
	}
}
