package memory

import (
	"fmt"
	"strings"

	"github.com/s-nakaya/kioku/pkg/model"
)

// maxSnippetLen bounds each memory's contribution to the prompt so a long
// transcript cannot blow the context block.
const maxSnippetLen = 500

// ContextBlock renders a retrieval result as a numbered list for prompt
// injection:
//
//  1. [image, 87% relevant] A tabby cat sitting on a windowsill.
//  2. [text, 64% relevant] Q: what do cats eat? A: ...
//
// Returns "" for an empty context.
func ContextBlock(qc *model.QueryContext) string {
	if qc.Empty() {
		return ""
	}

	var sb strings.Builder
	for i, mem := range qc.Memories {
		text := mem.Text
		if len(text) > maxSnippetLen {
			text = text[:maxSnippetLen] + "..."
		}
		fmt.Fprintf(&sb, "%d. [%s, %.0f%% relevant] %s\n", i+1, mem.Modality, mem.Score*100, text)
	}
	return strings.TrimRight(sb.String(), "\n")
}
