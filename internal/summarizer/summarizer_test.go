package summarizer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omegacore/omegad/internal/completion"
	"github.com/omegacore/omegad/internal/memory"
)

func openTestStore(t *testing.T) *memory.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.db")
	store, err := memory.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

type stubBackend struct {
	out *completion.OutgoingMessage
	err error
}

func (b *stubBackend) Complete(ctx context.Context, turn completion.TurnRequest) (*completion.OutgoingMessage, error) {
	return b.out, b.err
}

func TestSplitSummaryAndFacts(t *testing.T) {
	text := "User is planning a trip to Lisbon next month.\n\nFACTS:\nfavorite_city: Lisbon\nnext_trip: Lisbon, next month\n"
	summary, facts := splitSummaryAndFacts(text)
	require.Equal(t, "User is planning a trip to Lisbon next month.", summary)
	require.Equal(t, map[string]string{
		"favorite_city": "Lisbon",
		"next_trip":     "Lisbon, next month",
	}, facts)
}

func TestSplitSummaryAndFacts_NoFactsSection(t *testing.T) {
	summary, facts := splitSummaryAndFacts("Just a short recap of small talk.")
	require.Equal(t, "Just a short recap of small talk.", summary)
	require.Empty(t, facts)
}

func TestCloseOne_ExtractsFactsAndClosesWithSummary(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	conv, err := store.LookupOrCreate(ctx, "telegram", "u1", "")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, conv.ID, "user", "my favorite color is teal", nil)
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, conv.ID, "assistant", "got it, noted", nil)
	require.NoError(t, err)

	backend := &stubBackend{out: &completion.OutgoingMessage{
		Text: "Sender shared a favorite color.\n\nFACTS:\nfavorite_color: teal\n",
	}}
	s := New(store, backend, 0)

	s.closeOne(ctx, conv)

	summaries, err := store.RecentSummaries(ctx, "telegram", "u1", "", 5)
	require.NoError(t, err)
	require.Equal(t, []string{"Sender shared a favorite color."}, summaries)

	facts, err := store.Facts(ctx, "u1")
	require.NoError(t, err)
	var found bool
	for _, f := range facts {
		if f.Key == "favorite_color" && f.Value == "teal" {
			found = true
		}
	}
	require.True(t, found, "favorite_color fact should have been upserted from the FACTS block")
}

func TestCloseOne_BackendErrorStillCloses(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	conv, err := store.LookupOrCreate(ctx, "telegram", "u1", "")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, conv.ID, "user", "hello", nil)
	require.NoError(t, err)

	backend := &stubBackend{err: context.DeadlineExceeded}
	s := New(store, backend, 0)

	s.closeOne(ctx, conv)

	again, err := store.LookupOrCreate(ctx, "telegram", "u1", "")
	require.NoError(t, err)
	require.NotEqual(t, conv.ID, again.ID, "a closed conversation must not be resumed")
}

func TestCloseOne_EmptyHistoryClosesWithoutBackendCall(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	conv, err := store.LookupOrCreate(ctx, "telegram", "u1", "")
	require.NoError(t, err)

	backend := &stubBackend{err: context.DeadlineExceeded}
	s := New(store, backend, 0)

	s.closeOne(ctx, conv)

	again, err := store.LookupOrCreate(ctx, "telegram", "u1", "")
	require.NoError(t, err)
	require.NotEqual(t, conv.ID, again.ID, "a closed conversation must not be resumed")
}
