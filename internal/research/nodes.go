package research

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/cache"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/llm"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/toolloop"
)

// ErrNoModel is returned by nodes run without a language model.
var ErrNoModel = errors.New("research: no language model configured")

func model(ctx stepgraph.Context) (llm.Model, error) {
	m := ctx.Model()
	if m == nil {
		return nil, ErrNoModel
	}
	return m, nil
}

func competitors(s stepgraph.State) []string {
	return stepgraph.GetOr[[]string](s, ChannelCompetitors, nil)
}

// sortedCompetitors keeps drafts independent of the order competitors
// were given in.
func sortedCompetitors(s stepgraph.State) []string {
	out := slices.Clone(competitors(s))
	slices.Sort(out)
	return out
}

// extract asks the model for the product's features and queues them for
// research. An empty answer is recorded as a domain error.
func (w *Workflow) extract(ctx stepgraph.Context, s stepgraph.State) (stepgraph.State, error) {
	product := strings.TrimSpace(stepgraph.GetOr(s, ChannelProduct, ""))
	if product == "" {
		return stepgraph.State{stepgraph.ChannelError: "product description is empty"}, nil
	}
	m, err := model(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := m.Invoke(ctx, llm.Request{
		SystemPrompt: extractSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: extractPrompt(product)}},
	})
	if err != nil {
		return nil, fmt.Errorf("extract features: %w", err)
	}
	raw, err := llm.Decode[[]Feature](resp)
	if err != nil {
		return nil, fmt.Errorf("extract features: %w", err)
	}

	features := dedupe(raw, w.opts.MaxFeatures)
	if len(features) == 0 {
		return stepgraph.State{stepgraph.ChannelError: "no features found in product description"}, nil
	}

	items := make([]toolloop.Item, len(features))
	for i, f := range features {
		items[i] = toolloop.Item{ID: f.Name}
	}
	ctx.Notify(fmt.Sprintf("extracted %d feature(s)", len(features)))
	return stepgraph.State{
		ChannelFeatures:                features,
		toolloop.DefaultPendingChannel: items,
	}, nil
}

// dedupe drops unnamed and repeated features and caps the list at limit.
func dedupe(raw []Feature, limit int) []Feature {
	seen := make(map[string]bool, len(raw))
	out := make([]Feature, 0, len(raw))
	for _, f := range raw {
		f.Name = strings.TrimSpace(f.Name)
		key := strings.ToLower(f.Name)
		if f.Name == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
		if len(out) == limit {
			break
		}
	}
	return out
}

func extractKey(s stepgraph.State) (stepgraph.CacheKey, bool) {
	product := strings.TrimSpace(stepgraph.GetOr(s, ChannelProduct, ""))
	if product == "" {
		return stepgraph.CacheKey{}, false
	}
	return stepgraph.CacheKey{
		Prompt: extractPrompt(product),
		Scope:  cache.NewScope("node", NodeExtract),
	}, true
}

func afterExtract(_ stepgraph.Context, s stepgraph.State) string {
	if len(stepgraph.GetOr[[]toolloop.Item](s, toolloop.DefaultPendingChannel, nil)) == 0 {
		return NodeAssemble
	}
	return NodeResearch
}

// summarize turns the tool results for one feature into a finding.
func summarize(ctx stepgraph.Context, item toolloop.Item, results []toolloop.Result, s stepgraph.State) (stepgraph.State, error) {
	m, err := model(ctx)
	if err != nil {
		return nil, err
	}
	feature := lookupFeature(s, item.ID)

	resp, err := m.Invoke(ctx, llm.Request{
		SystemPrompt: summarizeSystemPrompt,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: summarizePrompt(feature, competitors(s), results),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("summarize %s: %w", item.ID, err)
	}

	finding := Finding{Feature: feature.Name, Summary: strings.TrimSpace(resp.Text)}
	for _, r := range results {
		if r.IsError {
			finding.Failed++
		} else {
			finding.Sources++
		}
	}
	return stepgraph.State{ChannelFindings: finding}, nil
}

func lookupFeature(s stepgraph.State, name string) Feature {
	for _, f := range stepgraph.GetOr[[]Feature](s, ChannelFeatures, nil) {
		if f.Name == name {
			return f
		}
	}
	return Feature{Name: name}
}

// nextFinding returns the first finding without a drafted section.
func nextFinding(s stepgraph.State) (Finding, bool) {
	done := make(map[string]bool)
	for _, sec := range Sections(s) {
		done[sec.Feature] = true
	}
	for _, f := range stepgraph.GetOr[[]Finding](s, ChannelFindings, nil) {
		if !done[f.Feature] {
			return f, true
		}
	}
	return Finding{}, false
}

// draft writes the report section for the next undrafted finding. The
// delta depends only on the finding, so it can be served from the cache.
func draft(ctx stepgraph.Context, s stepgraph.State) (stepgraph.State, error) {
	finding, ok := nextFinding(s)
	if !ok {
		return stepgraph.State{}, nil
	}
	m, err := model(ctx)
	if err != nil {
		return nil, err
	}

	feature := lookupFeature(s, finding.Feature)
	resp, err := m.Invoke(ctx, llm.Request{
		SystemPrompt: draftSystemPrompt,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: draftPrompt(feature, finding, sortedCompetitors(s)),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("draft %s: %w", finding.Feature, err)
	}

	ctx.Notify(fmt.Sprintf("drafted section %q", feature.Name))
	return stepgraph.State{ChannelSections: Section{
		Feature: feature.Name,
		Title:   feature.Name,
		Body:    strings.TrimSpace(resp.Text),
	}}, nil
}

func draftKey(s stepgraph.State) (stepgraph.CacheKey, bool) {
	finding, ok := nextFinding(s)
	if !ok {
		return stepgraph.CacheKey{}, false
	}
	feature := lookupFeature(s, finding.Feature)
	return stepgraph.CacheKey{
		Prompt: draftPrompt(feature, finding, sortedCompetitors(s)),
		Scope: cache.NewScope(
			"node", NodeDraft,
			"feature", feature.Name,
			"competitors", cache.SortedList(competitors(s)),
		),
	}, true
}

func nextDraft(_ stepgraph.Context, s stepgraph.State) string {
	if _, ok := nextFinding(s); ok {
		return NodeDraft
	}
	return NodeAssemble
}

// assemble joins the sections into the final markdown report.
func assemble(ctx stepgraph.Context, s stepgraph.State) (stepgraph.State, error) {
	sections := Sections(s)
	findings := stepgraph.GetOr[[]Finding](s, ChannelFindings, nil)
	sources := make(map[string]Finding, len(findings))
	for _, f := range findings {
		sources[f.Feature] = f
	}

	var b strings.Builder
	b.WriteString("# Competitive research\n")
	if cs := competitors(s); len(cs) > 0 {
		fmt.Fprintf(&b, "\nCompared against: %s\n", strings.Join(cs, ", "))
	}
	for _, sec := range sections {
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", sec.Title, sec.Body)
		if f, ok := sources[sec.Feature]; ok && f.Sources+f.Failed > 0 {
			fmt.Fprintf(&b, "\n_Sources consulted: %d", f.Sources)
			if f.Failed > 0 {
				fmt.Fprintf(&b, ", %d unavailable", f.Failed)
			}
			b.WriteString("_\n")
		}
	}
	if len(sections) == 0 {
		b.WriteString("\nNo sections were drafted.\n")
	}

	ctx.Notify(fmt.Sprintf("draft ready (%d section(s))", len(sections)))
	return stepgraph.State{ChannelDraft: b.String()}, nil
}
