package toolloop

import (
	"fmt"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/llm"
)

type loop struct {
	cfg Config
}

func (l *loop) pending(s stepgraph.State) []Item {
	return stepgraph.GetOr[[]Item](s, l.cfg.Pending, nil)
}

func (l *loop) proposed(s stepgraph.State) []llm.ToolCall {
	return stepgraph.GetOr[[]llm.ToolCall](s, l.cfg.Proposed, nil)
}

func (l *loop) processed(s stepgraph.State) bool {
	return stepgraph.GetOr(s, l.cfg.Processed, false)
}

// think finalizes a processed head item or plans calls for the next one.
func (l *loop) think(ctx stepgraph.Context, s stepgraph.State) (stepgraph.State, error) {
	pending := l.pending(s)
	if len(pending) == 0 {
		return stepgraph.State{l.cfg.Proposed: []llm.ToolCall{}}, nil
	}
	head := pending[0]

	if l.processed(s) {
		return l.finish(ctx, head, pending, s)
	}

	if head.Dispatched {
		if len(l.proposed(s)) == 0 {
			return l.finish(ctx, head, pending, s)
		}
		// The tools node has not reported back yet; keep the planned calls.
		ctx.Logger().Warn("item already dispatched, not planning again", "item", head.ID)
		return stepgraph.State{}, nil
	}

	calls, err := l.cfg.Planner.Plan(ctx, head, s)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", head.ID, err)
	}
	if len(calls) == 0 {
		ctx.Logger().Debug("no tool calls planned", "item", head.ID)
		return l.finish(ctx, head, pending, s)
	}

	calls = withCallIDs(head, calls)
	marked := make([]Item, len(pending))
	copy(marked, pending)
	marked[0].Dispatched = true

	ctx.Logger().Info("planned tool calls", "item", head.ID, "calls", len(calls))
	ctx.Notify(fmt.Sprintf("%s: calling %d tool(s)", head.ID, len(calls)))
	return stepgraph.State{
		l.cfg.Pending:  marked,
		l.cfg.Proposed: calls,
	}, nil
}

// finish removes exactly the head item and clears the loop flags.
func (l *loop) finish(ctx stepgraph.Context, head Item, pending []Item, s stepgraph.State) (stepgraph.State, error) {
	rest := make([]Item, len(pending)-1)
	copy(rest, pending[1:])

	delta := stepgraph.State{}
	if l.cfg.Finish != nil {
		extra, err := l.cfg.Finish(ctx, head, l.resultsFor(head, s), s)
		if err != nil {
			return nil, fmt.Errorf("finish %s: %w", head.ID, err)
		}
		for k, v := range extra {
			delta[k] = v
		}
	}
	delta[l.cfg.Pending] = rest
	delta[l.cfg.Proposed] = []llm.ToolCall{}
	delta[l.cfg.Processed] = false
	delete(delta, l.cfg.Results)

	ctx.Logger().Info("item finished", "item", head.ID, "remaining", len(rest))
	ctx.Notify(fmt.Sprintf("%s: done (%d remaining)", head.ID, len(rest)))
	return delta, nil
}

func (l *loop) resultsFor(head Item, s stepgraph.State) []Result {
	var out []Result
	for _, r := range stepgraph.GetOr[[]Result](s, l.cfg.Results, nil) {
		if r.Item == head.ID {
			out = append(out, r)
		}
	}
	return out
}

// tools executes the proposed calls for the head item.
func (l *loop) tools(ctx stepgraph.Context, s stepgraph.State) (stepgraph.State, error) {
	pending := l.pending(s)
	calls := l.proposed(s)
	if len(pending) == 0 || len(calls) == 0 {
		return stepgraph.State{l.cfg.Processed: true}, nil
	}
	head := pending[0]

	outs := l.cfg.Dispatcher.DispatchAll(ctx, calls)
	results := make([]Result, len(outs))
	failed := 0
	for i, o := range outs {
		results[i] = Result{
			Item:    head.ID,
			Tool:    o.Tool,
			CallID:  o.CallID,
			Content: o.Content,
			IsError: o.IsError,
		}
		if o.IsError {
			failed++
		}
	}

	ctx.Logger().Info("tool calls executed", "item", head.ID, "calls", len(outs), "failed", failed)
	return stepgraph.State{
		l.cfg.Results:   results,
		l.cfg.Processed: true,
		l.cfg.Proposed:  []llm.ToolCall{},
	}, nil
}

// route sends planned work to tools, loops while items remain, and exits
// once the list is empty.
func (l *loop) route(_ stepgraph.Context, s stepgraph.State) string {
	if len(l.proposed(s)) > 0 && !l.processed(s) {
		return l.cfg.ToolsNode
	}
	if len(l.pending(s)) == 0 {
		return l.cfg.Done
	}
	return l.cfg.ThinkingNode
}

// withCallIDs assigns deterministic IDs to calls the planner left unnamed.
func withCallIDs(item Item, calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = fmt.Sprintf("%s-%d", item.ID, i)
		}
		out[i] = c
	}
	return out
}
