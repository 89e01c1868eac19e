package tracker

import (
	"fmt"
	"reflect"
	"testing"
)

func TestAudienceDedupPreservesOrder(t *testing.T) {
	ch := NewChannel("#alpha", 10)

	for _, login := range []string{"bob", "alice", "bob", "carol", "alice", "bob"} {
		ch.AddAudience(login)
	}

	want := []string{"bob", "alice", "carol"}
	if got := ch.Audience(); !reflect.DeepEqual(got, want) {
		t.Errorf("audience = %v, want %v", got, want)
	}

	if added := ch.AddAudience("bob"); added {
		t.Error("AddAudience reported an existing login as newly added")
	}
	if added := ch.AddAudience("dave"); !added {
		t.Error("AddAudience did not report a new login as added")
	}
}

func TestRemoveAudienceKeepsOrder(t *testing.T) {
	ch := NewChannel("#alpha", 10)
	for _, login := range []string{"a", "b", "c", "d"} {
		ch.AddAudience(login)
	}

	ch.RemoveAudience("b")
	ch.RemoveAudience("missing") // no-op

	want := []string{"a", "c", "d"}
	if got := ch.Audience(); !reflect.DeepEqual(got, want) {
		t.Errorf("audience after removal = %v, want %v", got, want)
	}
}

func TestFollowerDedup(t *testing.T) {
	ch := NewChannel("#alpha", 10)

	for _, id := range []string{"1", "2", "1", "3", "2"} {
		ch.AddFollower(id)
	}

	want := []string{"1", "2", "3"}
	if got := ch.Followers(); !reflect.DeepEqual(got, want) {
		t.Errorf("followers = %v, want %v", got, want)
	}
	if ch.FollowerCount() != 3 {
		t.Errorf("follower count = %d, want 3", ch.FollowerCount())
	}
	if !ch.HasFollower("2") {
		t.Error("HasFollower missed a recorded id")
	}
	if ch.HasFollower("9") {
		t.Error("HasFollower reported an unknown id")
	}
}

func TestNewsQueueEvictsOldest(t *testing.T) {
	const limit = 3
	ch := NewChannel("#alpha", limit)

	for i := 0; i < limit+2; i++ {
		ch.PushNews(fmt.Sprintf("entry-%d", i))
	}

	want := []string{"entry-2", "entry-3", "entry-4"}
	if got := ch.DrainNews(); !reflect.DeepEqual(got, want) {
		t.Errorf("news = %v, want the most recent %d entries %v", got, limit, want)
	}
	if got := ch.DrainNews(); len(got) != 0 {
		t.Errorf("second drain returned %v, want empty", got)
	}
}

func TestPushJoinSignalsFirstEntry(t *testing.T) {
	ch := NewChannel("#alpha", 10)

	if !ch.PushJoin("bob") {
		t.Error("first join did not signal an empty-to-non-empty transition")
	}
	if ch.PushJoin("alice") {
		t.Error("second join signalled a transition on a non-empty window")
	}
	if ch.PushJoin("bob") {
		t.Error("duplicate join signalled a transition")
	}

	want := []string{"bob", "alice"}
	if got := ch.TakeJoinWindow(); !reflect.DeepEqual(got, want) {
		t.Errorf("window = %v, want %v", got, want)
	}

	// The window is empty again, so the next join signals once more.
	if !ch.PushJoin("carol") {
		t.Error("join after take did not signal a transition")
	}
}

func TestResetPreservesFollowers(t *testing.T) {
	ch := NewChannel("#alpha", 10)
	ch.AddAudience("bob")
	ch.AddAudience("alice")
	ch.PushJoin("bob")
	ch.AddFollower("42")
	ch.SetStatus(StatusConnected)

	ch.Reset()

	if ch.Status() != StatusConnecting {
		t.Errorf("status after reset = %v, want connecting", ch.Status())
	}
	if got := ch.Audience(); len(got) != 0 {
		t.Errorf("audience after reset = %v, want empty", got)
	}
	if got := ch.TakeJoinWindow(); len(got) != 0 {
		t.Errorf("join window after reset = %v, want empty", got)
	}
	want := []string{"42"}
	if got := ch.Followers(); !reflect.DeepEqual(got, want) {
		t.Errorf("followers after reset = %v, want preserved %v", got, want)
	}

	// A login removed by the reset can be re-added.
	if !ch.AddAudience("bob") {
		t.Error("reset did not release the audience membership for bob")
	}
}

func TestStats(t *testing.T) {
	ch := NewChannel("#alpha", 10)
	ch.AddAudience("bob")
	ch.AddAudience("alice")
	ch.AddFollower("42")
	ch.PushJoin("bob")
	ch.PushNews("!news bob: hi")

	got := ch.Stats()
	want := Stats{Name: "#alpha", Status: "connecting", Audience: 2, Followers: 1, Pending: 1, News: 1}
	if got != want {
		t.Errorf("stats = %+v, want %+v", got, want)
	}
}
