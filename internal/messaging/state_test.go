package messaging

import (
	"testing"

	"github.com/danmuck/godotlink/internal/testutil/testlog"
)

func TestStateCellRunsHooksInOrder(t *testing.T) {
	testlog.Start(t)
	var cell StateCell
	if cell.Load() != StateDisconnected {
		t.Fatalf("zero cell state=%s", cell.Load())
	}

	var got []string
	cell.OnChange(func(s ConnectionState) { got = append(got, "a:"+s.String()) })
	cell.OnChange(nil)
	cell.OnChange(func(s ConnectionState) {
		got = append(got, "b:"+s.String())
		// Registering from inside a hook must not deadlock or run the new hook now.
		cell.OnChange(func(s ConnectionState) { got = append(got, "c:"+s.String()) })
	})

	cell.set(StateConnected)
	if cell.Load() != StateConnected {
		t.Fatalf("state=%s", cell.Load())
	}
	want := []string{"a:connected", "b:connected"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("hooks=%v want=%v", got, want)
	}

	got = nil
	cell.set(StateDisconnected)
	if len(got) != 3 || got[2] != "c:disconnected" {
		t.Fatalf("hooks after late registration=%v", got)
	}
}
