package consensus

import (
	"fmt"
	"regexp"
	"strings"

	"consilium.app/panel/internal/model"
)

var (
	// itemStart opens an action item: a numbered line, optionally wrapped
	// in list markers or markdown bold.
	itemStart = regexp.MustCompile(`^\s*(?:[-*]\s+)?(?:\*\*)?(\d{1,2})[.)]\s*(.*)$`)

	// fieldLine is one "Key: value" line inside an item.
	fieldLine = regexp.MustCompile(`^\s*(?:[-*]\s+)?\**([A-Za-z][A-Za-z &/]*?)\**\s*:\s*(.*)$`)

	// sectionHeading matches the consensus document headings so the scan
	// can be anchored at the Recommendation section.
	sectionHeading = regexp.MustCompile(`(?i)^\s*(?:#+\s*)?\**\s*(assumptions|options|recommendation|risks?(?:\s*&\s*mitigations?)?|next steps)\**:?\s*$`)
)

// requiredFields drive defect reporting, in presentation order.
var requiredFields = []string{"Action", "Owner", "Deadline", "Tools/Resources", "Success Metric", "Risk & Mitigation"}

type rawItem struct {
	step     string
	owner    string
	deadline string
	tools    string
	metric   string
	risk     string
	fields   int
}

// ParsePlan extracts action items from the leader's synthesis text.
// Items must follow the line contract: a numbered step line followed by
// labeled Owner/Deadline/Tools/Success Metric/Risk lines. The returned
// defects name every missing field per item, or report that nothing
// parsed at all; an empty defect list means the plan is complete as
// written.
func ParsePlan(text string, team model.TeamConfiguration) ([]model.ActionItem, []string) {
	raw := scanItems(recommendationBlock(text))

	// Numbered lines with no labeled fields are prose (assumption lists,
	// option enumerations). Keep them only when nothing better parsed.
	labeled := raw[:0:0]
	for _, it := range raw {
		if it.fields > 0 {
			labeled = append(labeled, it)
		}
	}
	if len(labeled) > 0 {
		raw = labeled
	}

	if len(raw) == 0 {
		return nil, []string{"no numbered action items found"}
	}

	items := make([]model.ActionItem, 0, len(raw))
	var defects []string
	for i, it := range raw {
		items = append(items, model.ActionItem{
			Step:     it.step,
			Owner:    it.owner,
			Deadline: it.deadline,
			Tools:    it.tools,
			Metric:   it.metric,
			Risk:     it.risk,
		})
		if missing := missingFields(it); len(missing) > 0 {
			defects = append(defects, fmt.Sprintf("item %d is missing %s", i+1, strings.Join(missing, ", ")))
		}
	}

	return items, defects
}

// recommendationBlock narrows the scan to the Recommendation heading and
// everything after it, so numbered assumptions or options do not parse as
// action items. Without headings the whole text is scanned.
func recommendationBlock(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		m := sectionHeading.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if strings.EqualFold(m[1], "recommendation") {
			return strings.Join(lines[i+1:], "\n")
		}
	}
	return text
}

func scanItems(block string) []rawItem {
	var items []rawItem
	var cur *rawItem

	for _, line := range strings.Split(block, "\n") {
		if m := itemStart.FindStringSubmatch(line); m != nil {
			items = append(items, rawItem{})
			cur = &items[len(items)-1]
			applyStepLine(cur, m[2])
			continue
		}
		if cur == nil {
			continue
		}
		if sectionHeading.MatchString(line) {
			cur = nil
			continue
		}
		if m := fieldLine.FindStringSubmatch(line); m != nil {
			applyField(cur, m[1], m[2])
		}
	}

	return items
}

// applyStepLine takes the remainder of the numbered line as the step. A
// remainder of the form "Action: ..." is treated as a labeled field so
// both "1. Hold warfarin" and "1. Action: Hold warfarin" work.
func applyStepLine(it *rawItem, rest string) {
	rest = cleanValue(rest)
	if m := fieldLine.FindStringSubmatch(rest); m != nil && canonicalKey(m[1]) != "" {
		applyField(it, m[1], m[2])
		return
	}
	it.step = rest
}

func applyField(it *rawItem, key, value string) {
	value = cleanValue(value)
	if value == "" {
		return
	}

	switch canonicalKey(key) {
	case "action":
		it.step = value
	case "owner":
		it.owner = value
	case "deadline":
		it.deadline = value
	case "tools":
		it.tools = value
	case "metric":
		it.metric = value
	case "risk":
		it.risk = value
	default:
		return
	}
	it.fields++
}

func canonicalKey(key string) string {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "action", "step":
		return "action"
	case "owner":
		return "owner"
	case "deadline", "due", "due date":
		return "deadline"
	case "tools", "resources", "tools/resources", "required tools":
		return "tools"
	case "success metric", "success metrics", "metric", "metrics":
		return "metric"
	case "risk", "risks", "risk & mitigation", "risk and mitigation", "risks & mitigations":
		return "risk"
	default:
		return ""
	}
}

// cleanValue strips markdown emphasis and stray list markers around a
// captured value.
func cleanValue(v string) string {
	v = strings.TrimSpace(v)
	v = strings.Trim(v, "*_")
	return strings.TrimSpace(v)
}

func missingFields(it rawItem) []string {
	present := []bool{
		it.step != "",
		it.owner != "",
		it.deadline != "",
		it.tools != "",
		it.metric != "",
		it.risk != "",
	}
	var missing []string
	for i, ok := range present {
		if !ok {
			missing = append(missing, requiredFields[i])
		}
	}
	return missing
}

// ResolveOwner maps a raw owner string onto a team persona ID. Persona
// IDs match exactly, titles match case-insensitively, and the literal
// "leader" is kept as-is. Anything else falls back to the leader so
// every item stays actionable by someone on the panel.
func ResolveOwner(raw string, team model.TeamConfiguration) string {
	owner := cleanValue(raw)
	if owner == "" {
		return model.OwnerLeader
	}
	if strings.EqualFold(owner, model.OwnerLeader) {
		return model.OwnerLeader
	}

	for _, p := range team.Personas() {
		if p.ID == owner || strings.EqualFold(p.Title, owner) {
			return p.ID
		}
	}
	return model.OwnerLeader
}
