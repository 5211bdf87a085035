package heartbeat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHeartbeatOKSuppression(t *testing.T) {
	display, ok := EvaluateGroup("  [[HEARTBEAT_OK]]  ")
	require.False(t, ok)
	require.Empty(t, display)
}

func TestHeartbeatOKSuppression_NonOKDelivers(t *testing.T) {
	display, ok := EvaluateGroup("Backups look stale, kicked off a re-run.")
	require.True(t, ok)
	require.Equal(t, "Backups look stale, kicked off a re-run.", display)
}

func TestHeartbeatOKSuppression_MarkersStrippedBeforeJudging(t *testing.T) {
	// A reply that only contains marker directives (no HEARTBEAT_OK, but
	// nothing else either) still counts as "nothing meaningful" once
	// stripped.
	display, ok := EvaluateGroup("[[HEARTBEAT_ADD item=renew certs]]")
	require.False(t, ok)
	require.Empty(t, display)
}

func TestParseChecklist(t *testing.T) {
	text := "## Infra\n- check disk space\n- check backups\n\n## Side Project\n- review PRs\n"
	sections := ParseChecklist(text)
	require.Len(t, sections, 2)
	require.Equal(t, "Infra", sections[0].Name)
	require.Equal(t, []string{"check disk space", "check backups"}, sections[0].Items)
	require.Equal(t, "Side Project", sections[1].Name)
}

func TestStripProjectSections(t *testing.T) {
	sections := []Section{
		{Name: "Infra", Items: []string{"a"}},
		{Name: "Side-Project", Items: []string{"b"}},
	}
	out := StripProjectSections(sections, map[string]bool{"side project": true})
	require.Len(t, out, 1)
	require.Equal(t, "Infra", out[0].Name)
}

func TestClassifyGroups_SmallChecklistIsDirect(t *testing.T) {
	sections := []Section{{Name: "Infra", Items: []string{"a", "b"}}}
	groups := classifyGroups(sections)
	require.Len(t, groups, 1)
}

func TestClassifyGroups_LargeChecklistSplitsPerSection(t *testing.T) {
	sections := []Section{
		{Name: "Infra", Items: []string{"a", "b"}},
		{Name: "Billing", Items: []string{"c", "d"}},
	}
	groups := classifyGroups(sections)
	require.Len(t, groups, 2)
}

func TestWithinActiveHours_MidnightWrap(t *testing.T) {
	day := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	require.True(t, withinActiveHours(day, "22:00", "06:00"))

	day = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.False(t, withinActiveHours(day, "22:00", "06:00"))
}

func TestNextBoundary_AlignsToInterval(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 12, 0, 0, time.UTC)
	next := nextBoundary(now, 30)
	require.Equal(t, time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC), next)
}
