package service

import (
	"fmt"
	"strings"

	"github.com/sahaay-labs/sahaay/internal/classify"
	"github.com/sahaay-labs/sahaay/internal/domain"
)

const answerShape = `{
  "immediate_actions": ["<urgent first steps>"],
  "steps": ["<ordered reporting steps>"],
  "evidence_checklist": ["<evidence to preserve>"],
  "links": [{"label": "<name>", "url": "<url>"}]
}`

// BuildPrompt assembles the generation prompt from the query, its crime-type
// category, and the retrieved context.
func BuildPrompt(query string, category classify.Category, results []domain.RetrievedResult, language string) string {
	var b strings.Builder

	b.WriteString("You are a cybercrime reporting assistant for victims in India. ")
	b.WriteString("Answer using only the reference material below; if it is insufficient, say so and still give the standard reporting steps. ")
	fmt.Fprintf(&b, "Always include the national helpline %s and the portal %s in the steps.\n\n", domain.HelplineNumber, domain.PortalURL)

	if category != "" && category != classify.CategoryUnclassified {
		fmt.Fprintf(&b, "Incident category: %s\n\n", category)
	}

	if len(results) > 0 {
		b.WriteString("Reference material:\n")
		for i, r := range results {
			fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, r.Source, strings.TrimSpace(r.Content))
		}
		b.WriteString("\n")
	} else {
		b.WriteString("No reference material matched; answer from the standard reporting procedure.\n\n")
	}

	fmt.Fprintf(&b, "Question: %s\n\n", strings.TrimSpace(query))

	if language != "" && !strings.EqualFold(language, "en") {
		fmt.Fprintf(&b, "Write every string value in the language with ISO 639-1 code %q.\n", language)
	}
	b.WriteString("Respond with a single JSON object in exactly this shape, with no text before or after it:\n")
	b.WriteString(answerShape)
	b.WriteString("\n")

	return b.String()
}
