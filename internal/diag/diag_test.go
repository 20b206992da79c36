package diag

import "testing"

func TestCaptureNeverPanics(t *testing.T) {
	snap := Capture()
	if snap.GoVersion == "" {
		t.Fatal("expected a non-empty Go version in the snapshot")
	}
	if snap.GoroutineNum <= 0 {
		t.Fatal("expected at least one goroutine to be observed")
	}
}
