package markers

import (
	"fmt"
	"strings"
)

// Compose joins the confirmation text for a batch of executed markers
// into the lines appended after the stripped reply. Two spec rules govern
// this:
//
//   - implicit-replacement suppression: a SCHEDULE/SCHEDULE_ACTION result
//     whose Deduped flag is set (an identical-or-near-identical pending
//     task already existed) produces no "scheduled" confirmation at all,
//     since nothing actually changed.
//   - similar-task warning: a freshly created task whose description has
//     ≥50% word overlap with another currently pending task (computed by
//     the caller and passed in via similarTo) gets a one-line heads-up
//     instead of silent creation, so the user notices before it fires
//     twice under slightly different wording.
func Compose(results []Result, similarTo map[int]string) string {
	var lines []string
	for i, r := range results {
		if r.Silent || !r.OK {
			continue
		}
		switch r.Tag {
		case Schedule, ScheduleAction:
			if r.Deduped {
				continue // implicit-replacement suppression
			}
			if r.Task == nil {
				continue
			}
			line := fmt.Sprintf("📅 Scheduled: %s (%s)", r.Task.Description, r.Task.RunAt.Format("Jan 2 15:04"))
			if similar, ok := similarTo[i]; ok && similar != "" {
				line += fmt.Sprintf("\n⚠️ This looks similar to an existing task: %q", similar)
			}
			lines = append(lines, line)
		case "":
			continue
		default:
			if r.Message != "" {
				lines = append(lines, r.Message)
			}
		}
	}
	return strings.Join(lines, "\n")
}
