package config

import (
	"testing"
	"time"
)

func TestDefaultsMatchSpec(t *testing.T) {
	d := Defaults()
	if d.EnumScanIntervalMS != 500 {
		t.Fatalf("EnumScanIntervalMS = %d, want 500", d.EnumScanIntervalMS)
	}
	if d.DisconnectGraceMS != 10000 {
		t.Fatalf("DisconnectGraceMS = %d, want 10000", d.DisconnectGraceMS)
	}
	if d.IdleTransportTimeoutMS != 120000 {
		t.Fatalf("IdleTransportTimeoutMS = %d, want 120000", d.IdleTransportTimeoutMS)
	}
	if d.WorkerInboxCapacity != 32 {
		t.Fatalf("WorkerInboxCapacity = %d, want 32", d.WorkerInboxCapacity)
	}
	if d.EventSubscriberBuffer != 256 {
		t.Fatalf("EventSubscriberBuffer = %d, want 256", d.EventSubscriberBuffer)
	}
	if d.UploadChunkBytes != 1024 {
		t.Fatalf("UploadChunkBytes = %d, want 1024", d.UploadChunkBytes)
	}
	want := []int{100, 250, 500}
	if len(d.TransportRetryScheduleMS) != len(want) {
		t.Fatalf("TransportRetryScheduleMS = %v, want %v", d.TransportRetryScheduleMS, want)
	}
	for i := range want {
		if d.TransportRetryScheduleMS[i] != want[i] {
			t.Fatalf("TransportRetryScheduleMS = %v, want %v", d.TransportRetryScheduleMS, want)
		}
	}
}

func TestOpTimeoutFallsBackToDefault(t *testing.T) {
	d := Defaults()
	if got := d.OpTimeout("get_features"); got != 5*time.Second {
		t.Fatalf("OpTimeout(get_features) = %v, want 5s", got)
	}
	if got := d.OpTimeout("button_confirm"); got != 120*time.Second {
		t.Fatalf("OpTimeout(button_confirm) = %v, want 120s", got)
	}
}

func TestParseEnvFileSkipsBlankAndComments(t *testing.T) {
	dst := map[string]string{}
	parseEnvFile("# a comment\n\nKEEPKEYD_LOG_LEVEL=debug\nKEEPKEYD_HTTP_ADDR = 127.0.0.1:9000\n", dst)

	if dst["KEEPKEYD_LOG_LEVEL"] != "debug" {
		t.Fatalf("KEEPKEYD_LOG_LEVEL = %q, want debug", dst["KEEPKEYD_LOG_LEVEL"])
	}
	if dst["KEEPKEYD_HTTP_ADDR"] != "127.0.0.1:9000" {
		t.Fatalf("KEEPKEYD_HTTP_ADDR = %q, want 127.0.0.1:9000", dst["KEEPKEYD_HTTP_ADDR"])
	}
}

func TestApplyIntSliceParsesCommaList(t *testing.T) {
	env := map[string]string{"KEEPKEYD_TRANSPORT_RETRY_SCHEDULE_MS": "10, 20 ,30"}
	dst := []int{1, 2, 3}
	applyIntSlice(env, "KEEPKEYD_TRANSPORT_RETRY_SCHEDULE_MS", &dst)
	want := []int{10, 20, 30}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("applyIntSlice = %v, want %v", dst, want)
		}
	}
}
