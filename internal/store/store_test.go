package store

import (
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenDB(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatal(err)
	}
	if err := InitSchema(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestAppendAndUsageCounts(t *testing.T) {
	s := testStore(t)

	for i := 0; i < 3; i++ {
		if err := s.Append("gemini", "text", true); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := s.Append("dalle", "image", false); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	counts, err := s.UsageCounts(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("UsageCounts failed: %v", err)
	}
	if counts["gemini"] != 3 {
		t.Fatalf("expected 3 gemini entries, got %d", counts["gemini"])
	}
	if counts["dalle"] != 1 {
		t.Fatalf("expected 1 dalle entry, got %d", counts["dalle"])
	}

	counts, err = s.UsageCounts(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 0 {
		t.Fatalf("expected no entries in a future window, got %v", counts)
	}
}

func TestPrefs_UpsertAndMissing(t *testing.T) {
	s := testStore(t)

	if got, err := s.GetPref("u1", "identity"); err != nil || got != "" {
		t.Fatalf("expected empty value for unset pref, got %q err=%v", got, err)
	}

	if err := s.SetPref("u1", "identity", "a polite librarian"); err != nil {
		t.Fatalf("SetPref failed: %v", err)
	}
	if err := s.SetPref("u1", "identity", "a grumpy pirate"); err != nil {
		t.Fatalf("SetPref overwrite failed: %v", err)
	}

	got, err := s.GetPref("u1", "identity")
	if err != nil {
		t.Fatalf("GetPref failed: %v", err)
	}
	if got != "a grumpy pirate" {
		t.Fatalf("expected overwritten value, got %q", got)
	}

	if got, _ := s.GetPref("u2", "identity"); got != "" {
		t.Fatalf("prefs must be per-user, got %q for u2", got)
	}
}

func TestReminders_DueAndDelete(t *testing.T) {
	s := testStore(t)
	now := time.Now()

	past := Reminder{ID: "r1", UserID: "u1", ChannelID: "c1", Text: "stretch", DueAt: now.Add(-time.Minute)}
	future := Reminder{ID: "r2", UserID: "u1", ChannelID: "c1", Text: "later", DueAt: now.Add(time.Hour)}
	for _, r := range []Reminder{past, future} {
		if err := s.InsertReminder(r); err != nil {
			t.Fatalf("InsertReminder failed: %v", err)
		}
	}

	due, err := s.DueReminders(now)
	if err != nil {
		t.Fatalf("DueReminders failed: %v", err)
	}
	if len(due) != 1 || due[0].ID != "r1" {
		t.Fatalf("expected only the past reminder, got %+v", due)
	}
	if due[0].Text != "stretch" {
		t.Fatalf("unexpected reminder text: %q", due[0].Text)
	}

	if err := s.DeleteReminder("r1"); err != nil {
		t.Fatalf("DeleteReminder failed: %v", err)
	}
	n, err := s.PendingReminders()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pending reminder, got %d", n)
	}
}
