package research

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/llm"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/toolloop"
)

// maxResultChars caps each tool result quoted back to the model.
const maxResultChars = 4000

const extractSystemPrompt = `You are a product analyst. List the distinct user-facing features of the product described by the user.
Answer with a JSON array only, for example:
[{"name": "Offline sync", "description": "Edits made offline are merged when the device reconnects."}]`

const researchSystemPrompt = `You research how competitors implement a product feature.
Call fetch_url for pages that describe the competitors' versions of the feature: product pages, documentation or reviews.
If you already know enough, answer without calling tools.`

const summarizeSystemPrompt = `You summarize competitive research notes for one product feature.
Write a short factual summary comparing the competitors' approaches. Mention gaps where a source was unavailable.`

const draftSystemPrompt = `You write one section of a competitive analysis report in markdown.
Do not include a heading. Be concrete and cite competitors by name.`

func extractPrompt(product string) string {
	return "Product description:\n\n" + product
}

func describe(b *strings.Builder, f Feature, competitors []string) {
	fmt.Fprintf(b, "Feature: %s\n", f.Name)
	if f.Description != "" {
		fmt.Fprintf(b, "Description: %s\n", f.Description)
	}
	if len(competitors) > 0 {
		fmt.Fprintf(b, "Competitors: %s\n", strings.Join(competitors, ", "))
	}
}

// researchPrompt renders the planning conversation for one feature.
func researchPrompt(item toolloop.Item, s stepgraph.State) []llm.Message {
	var b strings.Builder
	describe(&b, lookupFeature(s, item.ID), competitors(s))
	return []llm.Message{{Role: llm.RoleUser, Content: b.String()}}
}

func summarizePrompt(f Feature, competitors []string, results []toolloop.Result) string {
	var b strings.Builder
	describe(&b, f, competitors)
	if len(results) == 0 {
		b.WriteString("\nNo sources were consulted.\n")
		return b.String()
	}
	b.WriteString("\nResearch notes:\n")
	for _, r := range results {
		content := r.Content
		if len(content) > maxResultChars {
			content = content[:maxResultChars]
		}
		if r.IsError {
			fmt.Fprintf(&b, "\n[%s %s failed] %s\n", r.Tool, r.CallID, content)
			continue
		}
		fmt.Fprintf(&b, "\n[%s %s]\n%s\n", r.Tool, r.CallID, content)
	}
	return b.String()
}

func draftPrompt(f Feature, finding Finding, competitors []string) string {
	var b strings.Builder
	describe(&b, f, competitors)
	fmt.Fprintf(&b, "\nResearch summary:\n%s\n", finding.Summary)
	return b.String()
}
