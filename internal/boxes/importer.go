package boxes

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var postHeaderPattern = regexp.MustCompile(`(?i)^post\s+(\d+)$`)

// ConditionChange is one parsed import block. Condition four is never imported.
type ConditionChange struct {
	PostID     int    `json:"postId"`
	Condition1 string `json:"condition1"`
	Condition2 string `json:"condition2"`
	Condition3 string `json:"condition3"`
}

type importBlock struct {
	postID     int
	conditions []string
}

// ParseImport parses free text of the form
//
//	Post 3
//	first condition
//	second condition
//	third condition
//
// Lines are trimmed and blank lines skipped. Every problem is collected; callers must reject the
// whole batch when the returned problem list is non-empty.
func ParseImport(text string) ([]ConditionChange, []string) {
	var (
		changes  []ConditionChange
		problems []string
		current  *importBlock
	)

	closeBlock := func() {
		if current == nil {
			return
		}
		if len(current.conditions) == 3 {
			changes = append(changes, ConditionChange{
				PostID:     current.postID,
				Condition1: current.conditions[0],
				Condition2: current.conditions[1],
				Condition3: current.conditions[2],
			})
		} else {
			problems = append(problems, fmt.Sprintf("Post %d: Expected 3 conditions, got %d", current.postID, len(current.conditions)))
		}
		current = nil
	}

	lineNumber := 0
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		lineNumber++

		if strings.HasPrefix(strings.ToLower(line), "post ") {
			closeBlock()
			match := postHeaderPattern.FindStringSubmatch(line)
			if match == nil {
				problems = append(problems, fmt.Sprintf("Invalid post format on line %d: %q", lineNumber, line))
				continue
			}
			postID, err := strconv.Atoi(match[1])
			if err != nil || postID < 1 || postID > BoxCount {
				problems = append(problems, fmt.Sprintf("Invalid post number: %s (must be 1-%d)", match[1], BoxCount))
				continue
			}
			current = &importBlock{postID: postID}
			continue
		}

		switch {
		case current == nil:
			problems = append(problems, fmt.Sprintf("Unexpected line %d: %q", lineNumber, line))
		case len(current.conditions) < 3:
			current.conditions = append(current.conditions, line)
		default:
			problems = append(problems, fmt.Sprintf("Post %d: Too many conditions (expected 3)", current.postID))
		}
	}
	closeBlock()

	return changes, problems
}

// ValidateChanges checks pre-parsed changes the same way ParseImport checks text.
func ValidateChanges(changes []ConditionChange) []string {
	var problems []string
	for _, change := range changes {
		if change.PostID < 1 || change.PostID > BoxCount {
			problems = append(problems, fmt.Sprintf("Invalid post ID: %d. Must be between 1 and %d", change.PostID, BoxCount))
			continue
		}
		if strings.TrimSpace(change.Condition1) == "" || strings.TrimSpace(change.Condition2) == "" || strings.TrimSpace(change.Condition3) == "" {
			problems = append(problems, fmt.Sprintf("Post %d: each change must have 3 conditions", change.PostID))
		}
	}
	return problems
}
