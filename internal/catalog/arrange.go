package catalog

import (
	"sort"

	"github.com/patrickwarner/coregflow/internal/models"
)

// Arrange orders campaigns by Order ascending, keeping fetch order for ties,
// and pulls every multi-step group together at the position of its first
// member. Group members keep their relative order from the sorted sequence;
// StepIndex is informational and never reorders them. The last campaign of
// the result is flagged IsFinalStep.
func Arrange(campaigns []models.Campaign) []models.Campaign {
	ordered := make([]models.Campaign, len(campaigns))
	copy(ordered, campaigns)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Order < ordered[j].Order
	})

	groups := make(map[string][]models.Campaign)
	for _, c := range ordered {
		if c.HasMultiStep {
			groups[c.GroupKey] = append(groups[c.GroupKey], c)
		}
	}

	out := make([]models.Campaign, 0, len(ordered))
	placed := make(map[string]bool)
	for _, c := range ordered {
		if !c.HasMultiStep {
			out = append(out, c)
			continue
		}
		if placed[c.GroupKey] {
			continue
		}
		placed[c.GroupKey] = true
		out = append(out, groups[c.GroupKey]...)
	}

	for i := range out {
		out[i].IsFinalStep = i == len(out)-1
	}
	return out
}

// Sections renders an arranged campaign sequence as questionnaire sections.
// Only the first section is visible.
func Sections(campaigns []models.Campaign) []models.Section {
	sections := make([]models.Section, len(campaigns))
	for i, c := range campaigns {
		sections[i] = models.Section{
			Index:    i,
			GroupKey: c.GroupKey,
			Visible:  i == 0,
			Campaign: c,
		}
	}
	return sections
}
