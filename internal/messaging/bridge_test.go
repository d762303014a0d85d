package messaging

import (
	"errors"
	"testing"

	"github.com/danmuck/godotlink/internal/testutil/testlog"
)

func TestDowngradeAdvisoryErrors(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("boom")
	cases := []struct {
		sev     Severity
		failure error
		want    Severity
	}{
		{SeverityDebug, nil, SeverityDebug},
		{SeverityInfo, nil, SeverityInfo},
		{SeverityWarning, nil, SeverityWarning},
		{SeverityError, nil, SeverityWarning},
		{SeverityError, boom, SeverityError},
	}
	for _, tc := range cases {
		if got := downgradeAdvisoryErrors(tc.sev, tc.failure); got != tc.want {
			t.Fatalf("sev=%s failure=%v got=%s want=%s", tc.sev, tc.failure, got, tc.want)
		}
	}
}

func TestBridgeForwardsToSink(t *testing.T) {
	testlog.Start(t)
	sink := &recordingSink{}
	b := NewBridge(sink)
	boom := errors.New("socket reset")

	b.LogDebug("d")
	b.LogInfo("i")
	b.LogWarning("w")
	b.LogError("e")
	b.LogErrorWithFailure("ef", boom)

	want := []recordedEvent{
		{SeverityDebug, "d", nil},
		{SeverityInfo, "i", nil},
		{SeverityWarning, "w", nil},
		{SeverityWarning, "e", nil},
		{SeverityError, "ef", boom},
	}
	if len(sink.events) != len(want) {
		t.Fatalf("events=%d want=%d", len(sink.events), len(want))
	}
	for i, ev := range sink.events {
		if ev != want[i] {
			t.Fatalf("event %d got=%+v want=%+v", i, ev, want[i])
		}
	}
}

func TestBridgeDefaultsToLogSink(t *testing.T) {
	testlog.Start(t)
	b := NewBridge(nil)
	if _, ok := b.sink.(LogSink); !ok {
		t.Fatalf("expected LogSink, got %T", b.sink)
	}
	b.LogErrorWithFailure("messaging test event", errors.New("ignored"))
}
