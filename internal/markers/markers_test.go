package markers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omegacore/omegad/internal/memory"
)

func TestMarkerStripping(t *testing.T) {
	text := "Sure, I'll remind you.\n[[SCHEDULE desc=call mom; at=30]]\nAnything else?"
	ms, errs := Extract(text)
	require.Empty(t, errs)
	require.Len(t, ms, 1)
	require.Equal(t, Schedule, ms[0].Tag)
	require.Equal(t, "call mom", ms[0].Payload["desc"])

	stripped := Strip(text)
	require.NotContains(t, stripped, "[[")
	require.NotContains(t, stripped, "SCHEDULE")
	require.Contains(t, stripped, "Sure, I'll remind you.")
	require.Contains(t, stripped, "Anything else?")
}

func TestMarkerStripping_InlineAndLineLeading(t *testing.T) {
	text := "[[LANG_SWITCH lang=es]]Claro, seguimos en español. [[PERSONALITY style=playful]] ¡Listo!"
	ms, errs := Extract(text)
	require.Empty(t, errs)
	require.Len(t, ms, 2)

	stripped := Strip(text)
	require.NotContains(t, stripped, "[[")
	require.Contains(t, stripped, "Claro, seguimos en español.")
	require.Contains(t, stripped, "¡Listo!")
}

func TestExtract_UnknownTagIsParseErrorNotFatal(t *testing.T) {
	text := "hello [[NOT_A_REAL_MARKER foo=bar]] world"
	ms, errs := Extract(text)
	require.Empty(t, ms)
	require.Len(t, errs, 1)
}

func TestExtract_NoIndicatorShortCircuits(t *testing.T) {
	ms, errs := Extract("just a plain reply with no markers at all")
	require.Nil(t, ms)
	require.Nil(t, errs)
}

func TestParsePayload_MultipleFields(t *testing.T) {
	ms, errs := Extract("[[SCHEDULE desc=buy milk; at=2026-08-01T09:00:00Z; repeat=daily]]")
	require.Empty(t, errs)
	require.Len(t, ms, 1)
	require.Equal(t, "buy milk", ms[0].Payload["desc"])
	require.Equal(t, "daily", ms[0].Payload["repeat"])
}

func TestCompose_SuppressesDedupedSchedule(t *testing.T) {
	results := []Result{
		{Tag: Schedule, OK: true, Deduped: true},
	}
	out := Compose(results, nil)
	require.Empty(t, out)
}

func TestCompose_WarnsOnSimilarTask(t *testing.T) {
	results := []Result{
		{Tag: Schedule, OK: true, Task: &memory.Task{Description: "call mom", RunAt: time.Now()}},
	}
	out := Compose(results, map[int]string{0: "call mom tonight"})
	require.Contains(t, out, "similar")
}
