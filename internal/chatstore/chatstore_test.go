package chatstore_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/namarks/chatmix/internal/apperr"
	"github.com/namarks/chatmix/internal/chatstore"

	_ "modernc.org/sqlite"
)

const fixtureSchema = `
CREATE TABLE conversations (
    id                INTEGER PRIMARY KEY,
    name              TEXT NOT NULL DEFAULT '',
    participant_count INTEGER NOT NULL DEFAULT 0,
    message_count     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE participants (
    conversation_id INTEGER NOT NULL,
    identity        TEXT NOT NULL
);

CREATE TABLE messages (
    conversation_id INTEGER NOT NULL,
    date            INTEGER NOT NULL,
    text            TEXT,
    payload         BLOB,
    sender          TEXT,
    is_from_me      INTEGER NOT NULL DEFAULT 0,
    reaction_kind   INTEGER NOT NULL DEFAULT 0,
    reaction_target TEXT
);
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// storeDate converts a UTC wall-clock time to the store's native timestamp
// representation for fixture rows.
func storeDate(year int, month time.Month, day, hour int) int64 {
	return chatstore.ToStoreTime(time.Date(year, month, day, hour, 0, 0, 0, time.UTC))
}

type fixtureMessage struct {
	conv           int64
	date           int64
	text           any
	payload        []byte
	sender         any
	fromMe         int
	reactionKind   int64
	reactionTarget any
}

func buildFixture(t *testing.T, messages []fixtureMessage) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "messages.db")
	db, err := sqlx.Connect("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("creating fixture store: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(fixtureSchema); err != nil {
		t.Fatalf("creating fixture schema: %v", err)
	}

	convs := map[int64]int{}
	for _, m := range messages {
		convs[m.conv]++
	}
	for id, count := range convs {
		_, err := db.Exec(
			`INSERT INTO conversations (id, name, participant_count, message_count) VALUES (?, ?, ?, ?)`,
			id, "", 2, count,
		)
		if err != nil {
			t.Fatalf("inserting fixture conversation: %v", err)
		}
	}
	for _, m := range messages {
		_, err := db.Exec(
			`INSERT INTO messages (conversation_id, date, text, payload, sender, is_from_me, reaction_kind, reaction_target)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.conv, m.date, m.text, m.payload, m.sender, m.fromMe, m.reactionKind, m.reactionTarget,
		)
		if err != nil {
			t.Fatalf("inserting fixture message: %v", err)
		}
	}
	return path
}

func collectMessages(t *testing.T, s chatstore.Store, conv int64, from, to time.Time) []chatstore.Message {
	t.Helper()

	var out []chatstore.Message
	err := s.MessagesInRange(context.Background(), conv, from, to, func(m chatstore.Message) error {
		out = append(out, m)
		return nil
	})
	if err != nil {
		t.Fatalf("MessagesInRange() error = %v", err)
	}
	return out
}

func TestOpen_MissingStore(t *testing.T) {
	t.Parallel()

	_, err := chatstore.Open(filepath.Join(t.TempDir(), "absent.db"), testLogger())
	if err == nil {
		t.Fatal("Open() expected error for missing store")
	}
	if code := apperr.Code(err); code != "STORE_ACCESS" {
		t.Errorf("error code = %q, want %q", code, "STORE_ACCESS")
	}
	if apperr.Remedy(err) == "" {
		t.Error("store access error should carry a remedy")
	}
}

func TestListConversations_RecencyOrder(t *testing.T) {
	t.Parallel()

	path := buildFixture(t, []fixtureMessage{
		{conv: 1, date: storeDate(2023, 1, 1, 10), text: "old"},
		{conv: 2, date: storeDate(2023, 6, 1, 10), text: "newer"},
		{conv: 3, date: storeDate(2023, 3, 1, 10), text: "middle"},
	})

	s, err := chatstore.Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	convs, err := s.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}

	var gotIDs []int64
	for _, c := range convs {
		gotIDs = append(gotIDs, c.ID)
	}
	wantIDs := []int64{2, 3, 1}
	if len(gotIDs) != len(wantIDs) {
		t.Fatalf("got %d conversations, want %d", len(gotIDs), len(wantIDs))
	}
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Errorf("conversation order = %v, want %v", gotIDs, wantIDs)
			break
		}
	}

	if convs[0].LastMessageAt.IsZero() {
		t.Error("LastMessageAt should be populated from the newest message")
	}
	if convs[0].HasMusicLinks != nil {
		t.Error("HasMusicLinks should be unknown on plain listing")
	}
}

func TestParticipants(t *testing.T) {
	t.Parallel()

	path := buildFixture(t, []fixtureMessage{
		{conv: 1, date: storeDate(2023, 1, 1, 10), text: "hi"},
	})

	db, err := sqlx.Connect("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("opening fixture for setup: %v", err)
	}
	for _, identity := range []string{"+15551230002", "+15551230001"} {
		if _, err := db.Exec(`INSERT INTO participants (conversation_id, identity) VALUES (1, ?)`, identity); err != nil {
			t.Fatalf("inserting participant: %v", err)
		}
	}
	db.Close()

	s, err := chatstore.Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	got, err := s.Participants(context.Background(), 1)
	if err != nil {
		t.Fatalf("Participants() error = %v", err)
	}
	want := []string{"+15551230001", "+15551230002"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Participants() = %v, want %v", got, want)
	}
}

func TestMessagesInRange_TextResolution(t *testing.T) {
	t.Parallel()

	path := buildFixture(t, []fixtureMessage{
		{conv: 1, date: storeDate(2023, 1, 1, 10), text: "plain column text", sender: "+15551230001"},
		{conv: 1, date: storeDate(2023, 1, 1, 11), payload: record(0x01, []byte("payload only text"))},
		{conv: 1, date: storeDate(2023, 1, 1, 12), payload: []byte{0x01}}, // undecodable
	})

	s, err := chatstore.Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	msgs := collectMessages(t, s, 1, time.Time{}, time.Time{})
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Text != "plain column text" {
		t.Errorf("msgs[0].Text = %q", msgs[0].Text)
	}
	if msgs[0].Sender != "+15551230001" {
		t.Errorf("msgs[0].Sender = %q", msgs[0].Sender)
	}
	if msgs[1].Text != "payload only text" {
		t.Errorf("msgs[1].Text = %q, want decoded payload text", msgs[1].Text)
	}
	if msgs[2].Text != "" {
		t.Errorf("msgs[2].Text = %q, want empty for undecodable payload", msgs[2].Text)
	}
	if msgs[2].Sender != "" {
		t.Errorf("msgs[2].Sender = %q, want empty for NULL sender", msgs[2].Sender)
	}
}

func TestMessagesInRange_DateFilter(t *testing.T) {
	t.Parallel()

	path := buildFixture(t, []fixtureMessage{
		{conv: 1, date: storeDate(2023, 1, 1, 10), text: "before"},
		{conv: 1, date: storeDate(2023, 2, 1, 10), text: "inside"},
		{conv: 1, date: storeDate(2023, 3, 1, 10), text: "edge"},
		{conv: 1, date: storeDate(2023, 4, 1, 10), text: "after"},
	})

	s, err := chatstore.Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	from := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2023, 3, 1, 10, 0, 0, 0, time.UTC) // inclusive bound

	msgs := collectMessages(t, s, 1, from, to)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Text != "inside" || msgs[1].Text != "edge" {
		t.Errorf("messages = [%q, %q], want [inside, edge]", msgs[0].Text, msgs[1].Text)
	}
}

func TestMessagesInRange_ReactionsFolded(t *testing.T) {
	t.Parallel()

	targetDate := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)
	targetKey := chatstore.Message{Text: "check this track", Timestamp: targetDate}.Key()

	path := buildFixture(t, []fixtureMessage{
		{conv: 1, date: chatstore.ToStoreTime(targetDate), text: "check this track", sender: "+15551230001"},
		{conv: 1, date: storeDate(2023, 1, 1, 11), sender: "+15551230002", reactionKind: 2000, reactionTarget: targetKey},
		{conv: 1, date: storeDate(2023, 1, 1, 12), sender: "+15551230003", reactionKind: 2001, reactionTarget: targetKey},
	})

	s, err := chatstore.Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	msgs := collectMessages(t, s, 1, time.Time{}, time.Time{})
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (reactions folded, not standalone)", len(msgs))
	}
	if len(msgs[0].Reactions) != 2 {
		t.Fatalf("got %d reactions, want 2", len(msgs[0].Reactions))
	}
	if msgs[0].Reactions[0].Kind != 2000 || msgs[0].Reactions[0].Sender != "+15551230002" {
		t.Errorf("first reaction = %+v", msgs[0].Reactions[0])
	}
}

func TestMessagesInRange_StopScan(t *testing.T) {
	t.Parallel()

	path := buildFixture(t, []fixtureMessage{
		{conv: 1, date: storeDate(2023, 1, 1, 10), text: "one"},
		{conv: 1, date: storeDate(2023, 1, 1, 11), text: "two"},
		{conv: 1, date: storeDate(2023, 1, 1, 12), text: "three"},
	})

	s, err := chatstore.Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	var seen int
	err = s.MessagesInRange(context.Background(), 1, time.Time{}, time.Time{}, func(chatstore.Message) error {
		seen++
		return chatstore.ErrStopScan
	})
	if err != nil {
		t.Fatalf("MessagesInRange() error = %v, want nil after ErrStopScan", err)
	}
	if seen != 1 {
		t.Errorf("callback ran %d times, want 1", seen)
	}
}

func TestMessagesInRange_Cancellation(t *testing.T) {
	t.Parallel()

	path := buildFixture(t, []fixtureMessage{
		{conv: 1, date: storeDate(2023, 1, 1, 10), text: "one"},
		{conv: 1, date: storeDate(2023, 1, 1, 11), text: "two"},
	})

	s, err := chatstore.Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var seen int
	err = s.MessagesInRange(ctx, 1, time.Time{}, time.Time{}, func(chatstore.Message) error {
		seen++
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("MessagesInRange() error = %v, want context.Canceled", err)
	}
	if seen != 1 {
		t.Errorf("callback ran %d times after cancel, want 1", seen)
	}
}

func TestContainsText(t *testing.T) {
	t.Parallel()

	path := buildFixture(t, []fixtureMessage{
		{conv: 1, date: storeDate(2023, 1, 1, 10), text: "went to the concert"},
		{conv: 1, date: storeDate(2023, 1, 1, 11), payload: record(0x01, []byte("https://open.spotify.com/track/abc"))},
		{conv: 2, date: storeDate(2023, 1, 1, 10), text: "nothing here"},
	})

	s, err := chatstore.Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	tests := []struct {
		name   string
		conv   int64
		substr string
		want   bool
	}{
		{name: "Plain text match", conv: 1, substr: "CONCERT", want: true},
		{name: "Payload-only match", conv: 1, substr: "spotify.com/track", want: true},
		{name: "No match", conv: 2, substr: "spotify", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ContainsText(context.Background(), tt.conv, tt.substr)
			if err != nil {
				t.Fatalf("ContainsText() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ContainsText(%q) = %v, want %v", tt.substr, got, tt.want)
			}
		})
	}
}
