package answer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/siherrmann/copilot/model"
)

// noEvidenceAnswer is returned when nothing relevant was retrieved.
const noEvidenceAnswer = "No relevant passages were found for this question."

// synthesizeDeterministic stitches the evidence snippets into an answer
// without any model call. Each passage is cited by its ordinal, so the
// references line up with the returned sources.
func synthesizeDeterministic(question string, sources []model.EvidenceItem) string {
	if len(sources) == 0 {
		return noEvidenceAnswer
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Relevant passages for %q:\n", question)
	for i, source := range sources {
		fmt.Fprintf(&b, "\n[%d] %s: %s", i+1, source.DocumentTitle, strings.TrimSpace(source.Snippet))
	}
	return b.String()
}

// synthesizeSummary builds a summary answer from the leading chunks of
// a single document.
func synthesizeSummary(title string, sources []model.EvidenceItem) string {
	if len(sources) == 0 {
		return noEvidenceAnswer
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Summary of %q:\n", title)
	for i, source := range sources {
		fmt.Fprintf(&b, "\n[%d] %s", i+1, strings.TrimSpace(source.Snippet))
	}
	return b.String()
}

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// sanitizeAnswer removes citations pointing outside the source list.
// Generated text may only reference the evidence actually returned;
// anything else is stripped before the answer leaves the engine.
func sanitizeAnswer(answer string, sourceCount int) string {
	cleaned := citationPattern.ReplaceAllStringFunc(answer, func(ref string) string {
		groups := citationPattern.FindStringSubmatch(ref)
		var ordinal int
		fmt.Sscanf(groups[1], "%d", &ordinal)
		if ordinal < 1 || ordinal > sourceCount {
			return ""
		}
		return ref
	})
	return strings.TrimSpace(cleaned)
}
