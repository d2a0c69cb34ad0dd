package agent

import "github.com/adolfousier/opencrab/provider"

// usageTally accumulates billing and display figures across loop iterations.
// Input and output tokens sum over every call; contextTokens tracks only the
// most recent call. Cost is computed per call from that call's own usage and
// summed, never recomputed from the aggregate.
type usageTally struct {
	input         int
	output        int
	contextTokens int
	cost          float64
	calls         int
}

// record folds one provider call's usage into the running totals.
func (t *usageTally) record(p provider.Provider, model string, u provider.Usage) {
	t.input += u.InputTokens
	t.output += u.OutputTokens
	t.contextTokens = u.InputTokens
	t.cost += p.Cost(model, u.InputTokens, u.OutputTokens)
	t.calls++
}

// total returns the summed billing usage.
func (t *usageTally) total() provider.Usage {
	return provider.Usage{InputTokens: t.input, OutputTokens: t.output}
}
