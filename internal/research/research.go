// Package research is a competitive research workflow built on stepgraph.
//
// Given a product description and a list of competitors, the workflow
// extracts the product's features, researches each feature with a
// fetch_url tool loop, drafts one report section per feature and
// assembles the sections into a markdown draft:
//
//	extract_features -> research <-> fetch -> draft (loops) -> assemble
//
// Feature extraction and drafting are cached by node, feature and
// competitor set.
package research

import (
	"fmt"
	"time"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/tool"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/toolloop"
)

// Node names.
const (
	NodeExtract  = "extract_features"
	NodeResearch = "research"
	NodeFetch    = "fetch"
	NodeDraft    = "draft"
	NodeAssemble = "assemble"
)

// Channel names.
const (
	ChannelProduct     = "product"
	ChannelCompetitors = "competitors"
	ChannelFeatures    = "features"
	ChannelFindings    = "findings"
	ChannelSections    = "sections"
	ChannelDraft       = "draft"
)

// Defaults for Options.
const (
	DefaultMaxFeatures = 5
	DefaultCacheTTL    = 24 * time.Hour
	DefaultToolTimeout = 30 * time.Second
)

// Feature is one product capability to research.
type Feature struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Finding summarizes what the research loop learned about a feature.
type Finding struct {
	Feature string `json:"feature"`
	Summary string `json:"summary"`
	Sources int    `json:"sources"`
	Failed  int    `json:"failed,omitempty"`
}

// Section is one drafted part of the report.
type Section struct {
	Feature string `json:"feature"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}

// Options configures the workflow.
type Options struct {
	// Tools offered to the research loop. Defaults to fetch_url only.
	Tools *tool.Registry
	// ToolTimeout bounds each tool call.
	ToolTimeout time.Duration
	// MaxFeatures caps the number of extracted features.
	MaxFeatures int
	// CacheTTL applies to cached extraction and drafting results.
	CacheTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.Tools == nil {
		o.Tools = tool.NewRegistry(tool.NewFetch(nil, 0))
	}
	if o.ToolTimeout <= 0 {
		o.ToolTimeout = DefaultToolTimeout
	}
	if o.MaxFeatures <= 0 {
		o.MaxFeatures = DefaultMaxFeatures
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	return o
}

// Workflow holds the compiled research graph.
type Workflow struct {
	graph *stepgraph.CompiledGraph
	opts  Options
}

// New builds and compiles the research graph. Nodes use the model of the
// run's stepgraph.Context.
func New(opts Options) (*Workflow, error) {
	opts = opts.withDefaults()
	w := &Workflow{opts: opts}

	loopCfg := toolloop.Config{
		ThinkingNode: NodeResearch,
		ToolsNode:    NodeFetch,
		Done:         NodeDraft,
		Planner: &toolloop.ModelPlanner{
			SystemPrompt: researchSystemPrompt,
			Prompt:       researchPrompt,
			Tools:        opts.Tools,
		},
		Dispatcher: tool.NewDispatcher(opts.Tools, tool.WithTimeout(opts.ToolTimeout)),
		Finish:     summarize,
	}

	channels := append([]stepgraph.Channel{
		stepgraph.Overwrite[string](ChannelProduct),
		stepgraph.Overwrite[[]string](ChannelCompetitors),
		stepgraph.Overwrite[[]Feature](ChannelFeatures),
		stepgraph.Append[Finding](ChannelFindings),
		stepgraph.Append[Section](ChannelSections),
		stepgraph.Overwrite[string](ChannelDraft),
	}, toolloop.Channels(loopCfg)...)

	g := stepgraph.NewGraph(stepgraph.NewSchema(channels...)).
		AddNode(NodeExtract, w.extract, stepgraph.WithCachePolicy(stepgraph.CachePolicy{
			Key: extractKey,
			TTL: opts.CacheTTL,
		})).
		AddNode(NodeDraft, draft, stepgraph.WithCachePolicy(stepgraph.CachePolicy{
			Key: draftKey,
			TTL: opts.CacheTTL,
		})).
		AddNode(NodeAssemble, assemble).
		SetEntry(NodeExtract).
		AddConditionalEdge(NodeExtract, afterExtract, NodeResearch, NodeAssemble).
		AddConditionalEdge(NodeDraft, nextDraft, NodeDraft, NodeAssemble).
		AddEdge(NodeAssemble, stepgraph.END)
	toolloop.Attach(g, loopCfg)

	compiled, err := g.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile research graph: %w", err)
	}
	w.graph = compiled
	return w, nil
}

// Graph returns the compiled graph, for Resume, State and History.
func (w *Workflow) Graph() *stepgraph.CompiledGraph {
	return w.graph
}

// Run researches product against competitors and returns the final state.
func (w *Workflow) Run(ctx stepgraph.Context, product string, competitors []string, opts ...stepgraph.RunOption) (stepgraph.State, error) {
	return w.graph.Run(ctx, Input(product, competitors), opts...)
}

// Input builds the initial state of a run.
func Input(product string, competitors []string) stepgraph.State {
	return stepgraph.State{
		ChannelProduct:     product,
		ChannelCompetitors: competitors,
	}
}

// Draft returns the assembled report of a finished run.
func Draft(s stepgraph.State) string {
	return stepgraph.GetOr(s, ChannelDraft, "")
}

// Sections returns the drafted sections in feature order.
func Sections(s stepgraph.State) []Section {
	return stepgraph.GetOr[[]Section](s, ChannelSections, nil)
}
