package appendlog_test

import (
	"testing"
	"time"

	"github.com/zynqcloud/capdocs/internal/appendlog"
	"github.com/zynqcloud/capdocs/internal/store"
)

func ts(minute int) time.Time {
	return time.Date(2026, 1, 1, 0, minute, 0, 0, time.UTC)
}

func TestReduceOpenWithNoClaim(t *testing.T) {
	appends := []*store.Append{
		{AppendID: "t1", Type: store.AppendTask, CreatedAt: ts(0)},
	}
	state := appendlog.Reduce(appends, "t1", ts(5))
	if state.Status != appendlog.StatusOpen {
		t.Errorf("status = %q, want open", state.Status)
	}
}

func TestReduceClaimedByActiveClaim(t *testing.T) {
	expires := ts(30)
	appends := []*store.Append{
		{AppendID: "t1", Type: store.AppendTask, CreatedAt: ts(0)},
		{AppendID: "c1", ParentRef: "t1", Type: store.AppendClaim, Author: "alice", ExpiresAt: &expires, CreatedAt: ts(1)},
	}
	state := appendlog.Reduce(appends, "t1", ts(5))
	if state.Status != appendlog.StatusClaimed {
		t.Fatalf("status = %q, want claimed", state.Status)
	}
	if state.ActiveClaim == nil || state.ActiveClaim.Author != "alice" {
		t.Errorf("active claim = %+v, want alice's claim", state.ActiveClaim)
	}
}

func TestReduceExpiredClaimReopensTask(t *testing.T) {
	expires := ts(10)
	appends := []*store.Append{
		{AppendID: "t1", Type: store.AppendTask, CreatedAt: ts(0)},
		{AppendID: "c1", ParentRef: "t1", Type: store.AppendClaim, Author: "alice", ExpiresAt: &expires, CreatedAt: ts(1)},
	}
	state := appendlog.Reduce(appends, "t1", ts(15))
	if state.Status != appendlog.StatusOpen {
		t.Errorf("status = %q, want open (claim expired)", state.Status)
	}
	if state.ActiveClaim != nil {
		t.Error("expired claim must not be reported as active")
	}
}

func TestReduceRenewExtendsExpiry(t *testing.T) {
	firstExpiry := ts(10)
	renewedExpiry := ts(40)
	appends := []*store.Append{
		{AppendID: "t1", Type: store.AppendTask, CreatedAt: ts(0)},
		{AppendID: "c1", ParentRef: "t1", Type: store.AppendClaim, Author: "alice", ExpiresAt: &firstExpiry, CreatedAt: ts(1)},
		{AppendID: "r1", ParentRef: "c1", Type: store.AppendRenew, ExpiresAt: &renewedExpiry, CreatedAt: ts(2)},
	}
	state := appendlog.Reduce(appends, "t1", ts(20))
	if state.Status != appendlog.StatusClaimed {
		t.Fatalf("status = %q, want claimed after renew", state.Status)
	}
}

func TestReduceCancelReopensTask(t *testing.T) {
	expires := ts(30)
	appends := []*store.Append{
		{AppendID: "t1", Type: store.AppendTask, CreatedAt: ts(0)},
		{AppendID: "c1", ParentRef: "t1", Type: store.AppendClaim, Author: "alice", ExpiresAt: &expires, CreatedAt: ts(1)},
		{AppendID: "x1", ParentRef: "c1", Type: store.AppendCancel, CreatedAt: ts(2)},
	}
	state := appendlog.Reduce(appends, "t1", ts(5))
	if state.Status != appendlog.StatusOpen {
		t.Errorf("status = %q, want open after cancel", state.Status)
	}
}

func TestReduceResponseIsTerminal(t *testing.T) {
	expires := ts(30)
	appends := []*store.Append{
		{AppendID: "t1", Type: store.AppendTask, CreatedAt: ts(0)},
		{AppendID: "c1", ParentRef: "t1", Type: store.AppendClaim, Author: "alice", ExpiresAt: &expires, CreatedAt: ts(1)},
		{AppendID: "d1", ParentRef: "t1", Type: store.AppendResponse, CreatedAt: ts(2)},
	}
	state := appendlog.Reduce(appends, "t1", ts(5))
	if state.Status != appendlog.StatusDone {
		t.Fatalf("status = %q, want done", state.Status)
	}
	if state.DoneAt == nil {
		t.Error("doneAt must be set once a response lands")
	}
	if state.ActiveClaim != nil {
		t.Error("a done task must report no active claim")
	}
}

func TestFindTask(t *testing.T) {
	appends := []*store.Append{
		{AppendID: "t1", Type: store.AppendTask},
		{AppendID: "c1", Type: store.AppendClaim},
	}
	if got := appendlog.FindTask(appends, "t1"); got == nil {
		t.Fatal("expected to find task t1")
	}
	if got := appendlog.FindTask(appends, "missing"); got != nil {
		t.Error("expected nil for missing task id")
	}
}

func TestCountActiveClaimsCountsOnlyOneAuthorsOpenClaims(t *testing.T) {
	expires := ts(30)
	appends := []*store.Append{
		{AppendID: "t1", Type: store.AppendTask, CreatedAt: ts(0)},
		{AppendID: "c1", ParentRef: "t1", Type: store.AppendClaim, Author: "alice", ExpiresAt: &expires, CreatedAt: ts(1)},
		{AppendID: "t2", Type: store.AppendTask, CreatedAt: ts(0)},
		{AppendID: "c2", ParentRef: "t2", Type: store.AppendClaim, Author: "bob", ExpiresAt: &expires, CreatedAt: ts(1)},
		{AppendID: "t3", Type: store.AppendTask, CreatedAt: ts(0)},
		{AppendID: "c3", ParentRef: "t3", Type: store.AppendClaim, Author: "alice", ExpiresAt: &expires, CreatedAt: ts(1)},
	}
	if got := appendlog.CountActiveClaims(appends, "alice", ts(5)); got != 2 {
		t.Errorf("alice's active claim count = %d, want 2", got)
	}
	if got := appendlog.CountActiveClaims(appends, "bob", ts(5)); got != 1 {
		t.Errorf("bob's active claim count = %d, want 1", got)
	}
}
