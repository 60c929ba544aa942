package conversation

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DatanoiseTV/personamcp/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 9, 10, 30, 0, 0, time.UTC)

func single() Conversation {
	return Conversation{
		ID:        "c1",
		PersonaID: "p1",
		Messages: []Message{
			NewUserMessage("m1", "hello", t0),
			NewPersonaMessage("m2", "p1", "hi there", t0.Add(time.Second)),
			NewUserMessage("m3", "how are you?", t0.Add(2*time.Second)),
		},
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

func group() Conversation {
	return Conversation{
		ID:             "g1",
		PersonaID:      "p1",
		IsGroup:        true,
		ParticipantIDs: []string{"p1", "p2"},
		Messages: []Message{
			NewUserMessage("m1", "team?", t0),
			NewPersonaMessage("m2", "p2", "here", t0),
		},
		Title: "Standup",
	}
}

func TestCurrentParticipants(t *testing.T) {
	legacy := Conversation{IsGroup: true, ParticipantIDs: []string{"p1", "p2"}}
	assert.Equal(t, []string{"p1", "p2"}, legacy.CurrentParticipants())

	c := Conversation{IsGroup: true, ParticipantIDs: []string{"p1", "p2"}, ActiveIDs: []string{"p2"}}
	assert.Equal(t, []string{"p2"}, c.CurrentParticipants())
	assert.True(t, c.Involves("p1"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		conv    func() Conversation
		wantErr error
	}{
		{"single ok", single, nil},
		{"group ok", group, nil},
		{"no persona", func() Conversation {
			c := single()
			c.PersonaID = ""
			return c
		}, ErrMissingPersona},
		{"single foreign persona", func() Conversation {
			c := single()
			c.Messages = append(c.Messages, NewPersonaMessage("m4", "p9", "intruder", t0))
			return c
		}, ErrForeignSender},
		{"group non participant", func() Conversation {
			c := group()
			c.Messages = append(c.Messages, NewPersonaMessage("m3", "p3", "who", t0))
			return c
		}, ErrForeignSender},
		{"persona message without id", func() Conversation {
			c := single()
			c.Messages = append(c.Messages, Message{ID: "m4", Sender: SenderPersona})
			return c
		}, ErrMessageIncomplete},
		{"unknown sender", func() Conversation {
			c := single()
			c.Messages = append(c.Messages, Message{ID: "m4", Sender: "robot"})
			return c
		}, ErrMessageIncomplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.conv().Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestServiceRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := store.OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc := NewService(db)
	want := single()
	require.NoError(t, svc.Save(ctx, want))

	got, err := svc.Get(ctx, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.Messages, got.Messages)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
}

func TestServiceUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemory())

	require.NoError(t, svc.Save(ctx, single()))
	require.NoError(t, svc.Save(ctx, group()))

	edited := single()
	edited.Messages = edited.Messages[:1]
	require.NoError(t, svc.Save(ctx, edited))

	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "c1", all[0].ID)
	assert.Len(t, all[0].Messages, 1)

	require.NoError(t, svc.Delete(ctx, "c1"))
	_, err = svc.Get(ctx, "c1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, "c1"), store.ErrNotFound)
}

func TestServiceRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemory())

	bad := group()
	bad.ParticipantIDs = []string{"p1"}
	assert.ErrorIs(t, svc.Save(ctx, bad), ErrForeignSender)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestForPersona(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemory())
	require.NoError(t, svc.Save(ctx, single()))
	require.NoError(t, svc.Save(ctx, group()))

	p1, err := svc.ForPersona(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, p1, 2)

	p2, err := svc.ForPersona(ctx, "p2")
	require.NoError(t, err)
	require.Len(t, p2, 1)
	assert.Equal(t, "g1", p2[0].ID)

	none, err := svc.ForPersona(ctx, "p3")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestExport(t *testing.T) {
	msgs := []Message{
		NewUserMessage("m1", "line one\nline two", t0),
		NewPersonaMessage("m2", "p1", "reply", t0.Add(time.Minute)),
	}
	names := func(m Message) string {
		if m.Sender == SenderUser {
			return "You"
		}
		return "Ada"
	}

	tr := Export("Conversation with Ada", msgs, names, t0)

	assert.Equal(t, "Conversation_with_Ada_2024-03-09.txt", tr.Filename)
	lines := strings.Split(strings.TrimRight(tr.Body, "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "# Conversation with Ada", lines[0])
	assert.Equal(t, "Exported on: 2024-03-09 10:30:00", lines[1])
	assert.Equal(t, "", lines[2])
	assert.Equal(t, "[2024-03-09 10:30:00] You: line one line two", lines[3])
	assert.Equal(t, "[2024-03-09 10:31:00] Ada: reply", lines[4])
}

func TestExportFilenameStaysInDirectory(t *testing.T) {
	names := func(Message) string { return "You" }
	msgs := []Message{NewUserMessage("m1", "hi", t0)}

	tests := []struct {
		title string
		want  string
	}{
		{"../escaped", "_escaped_2024-03-09.txt"},
		{"a/b\\c", "a_b_c_2024-03-09.txt"},
		{"..", "_2024-03-09.txt"},
		{"  Team  sync: Q1 ", "Team_sync_Q1_2024-03-09.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			got := Export(tt.title, msgs, names, t0).Filename
			assert.Equal(t, tt.want, got)
			assert.Equal(t, filepath.Base(got), got)
		})
	}
}

func TestServiceConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemory())

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := single()
			c.ID = fmt.Sprintf("c%d", i)
			assert.NoError(t, svc.Save(ctx, c))
		}()
	}
	wg.Wait()

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, n)
}
