package heartbeat

import "strings"

// Section is one `## Name` block of a checklist file, holding its bullet
// items in source order.
type Section struct {
	Name  string
	Items []string
}

// Empty reports whether a section has no remaining items.
func (s Section) Empty() bool { return len(s.Items) == 0 }

// ParseChecklist splits a markdown checklist into its `## `-headed
// sections, each a list of `- `/`* ` bullet items. Content before the
// first header is ignored — spec's checklist format is section-only.
func ParseChecklist(text string) []Section {
	var sections []Section
	var current *Section

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			if current != nil {
				sections = append(sections, *current)
			}
			current = &Section{Name: strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))}
			continue
		}
		if current == nil {
			continue
		}
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			item := strings.TrimSpace(trimmed[2:])
			if item != "" {
				current.Items = append(current.Items, item)
			}
		}
	}
	if current != nil {
		sections = append(sections, *current)
	}
	return sections
}

// NormalizeSectionName lets a project name ("my-project" or "my_project")
// match a checklist section header ("My Project") per spec §4.7 step 2.
func NormalizeSectionName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.ReplaceAll(name, "_", " ")
	return strings.Join(strings.Fields(name), " ")
}

// StripProjectSections removes any section whose name matches an active
// project (by NormalizeSectionName) that has its own checklist — that
// project's items are handled in its own per-project phase instead.
func StripProjectSections(sections []Section, projectsWithOwnChecklist map[string]bool) []Section {
	var out []Section
	for _, sec := range sections {
		key := NormalizeSectionName(sec.Name)
		if projectsWithOwnChecklist[key] {
			continue
		}
		out = append(out, sec)
	}
	return out
}

// TotalItems counts items across every section.
func TotalItems(sections []Section) int {
	n := 0
	for _, s := range sections {
		n += len(s.Items)
	}
	return n
}

// Render turns sections back into a markdown checklist block for the
// system prompt.
func Render(sections []Section) string {
	var b strings.Builder
	for _, s := range sections {
		if s.Empty() {
			continue
		}
		b.WriteString("## " + s.Name + "\n")
		for _, item := range s.Items {
			b.WriteString("- " + item + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}
