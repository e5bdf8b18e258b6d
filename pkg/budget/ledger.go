// Package budget implements the hierarchical token/cost ledger
// §4.D): budgets form a tree of run ⊃ phase ⊃ agent ⊃ tool scopes, admission
// checks every ancestor, and record updates all ancestors atomically.
package budget

import (
	"context"
	"fmt"
	"sync"

	"github.com/kestrelflow/engine/pkg/models"
)

// ScopePath addresses one node in the budget tree. Only the fields that are
// non-empty are walked; e.g. a phase-level admission check leaves AgentID
// and Tool blank.
type ScopePath struct {
	RunID   string
	Phase   string
	AgentID string
	Tool    string
}

// scopeNames returns the (level, key) pairs from root to leaf for path.
func (p ScopePath) scopeNames() []struct {
	level string
	key   string
} {
	levels := []struct {
		level string
		key   string
	}{{"run", p.RunID}}
	if p.Phase != "" {
		levels = append(levels, struct{ level, key string }{"phase", p.Phase})
	}
	if p.AgentID != "" {
		levels = append(levels, struct{ level, key string }{"agent", p.AgentID})
	}
	if p.Tool != "" {
		levels = append(levels, struct{ level, key string }{"tool", p.Tool})
	}
	return levels
}

// Usage is a point-in-time snapshot of one scope's consumption.
type Usage struct {
	LimitTokens int64   `json:"limit_tokens"`
	InputTokens int64   `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Remaining reports the tokens left before LimitTokens is hit. A zero limit
// means unlimited and Remaining returns -1 in that case.
func (u Usage) Remaining() int64 {
	if u.LimitTokens <= 0 {
		return -1
	}
	used := u.InputTokens + u.OutputTokens
	if used >= u.LimitTokens {
		return 0
	}
	return u.LimitTokens - used
}

// Decision is the result of an admission check.
type Decision struct {
	Allowed bool
	Reason  string // populated when Allowed is false
}

type node struct {
	level        string
	name         string
	limitTokens  int64
	usedInput    int64
	usedOutput   int64
	costUSD      float64
	thresholdHit bool
	children     map[string]*node
}

func newNode(level, name string) *node {
	return &node{level: level, name: name, children: make(map[string]*node)}
}

func (n *node) usage() Usage {
	return Usage{
		LimitTokens:  n.limitTokens,
		InputTokens:  n.usedInput,
		OutputTokens: n.usedOutput,
		CostUSD:      n.costUSD,
	}
}

// EventEmitter is the narrow interface the ledger needs from the event bus
// to publish budget_threshold events, keeping this package independent of
// pkg/events' concrete type.
type EventEmitter interface {
	Publish(ctx context.Context, evt models.Event)
}

// Ledger is the mutex-guarded hierarchical budget tree for every run the
// process has seen. One Ledger is shared process-wide; callers address a
// run, phase, agent or tool via ScopePath.
type Ledger struct {
	mu             sync.Mutex
	root           *node
	emitter        EventEmitter
	metrics        *Metrics
	thresholdRatio float64
}

// NewLedger builds an empty ledger. emitter and metrics may both be nil
// (useful in tests); a nil emitter simply skips budget_threshold events and
// a nil metrics simply skips Prometheus instrumentation, mirroring the
// teacher's nil-receiver-is-a-no-op metrics idiom.
func NewLedger(emitter EventEmitter, metrics *Metrics) *Ledger {
	return &Ledger{
		root:           newNode("root", ""),
		emitter:        emitter,
		metrics:        metrics,
		thresholdRatio: 0.8,
	}
}

// WithThresholdRatio overrides the default 0.8 alert threshold.
func (l *Ledger) WithThresholdRatio(ratio float64) *Ledger {
	l.thresholdRatio = ratio
	return l
}

// Configure sets (or replaces) the token limit for the scope named by path.
// Intermediate ancestor nodes are created as needed but left unlimited
// unless separately configured.
func (l *Ledger) Configure(path ScopePath, limitTokens int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	chain := l.chain(path)
	chain[len(chain)-1].limitTokens = limitTokens
}

// chain must be called with l.mu held. It creates (if absent) and returns
// every node from the run down to the deepest level named in path.
func (l *Ledger) chain(path ScopePath) []*node {
	cur := l.child(l.root, "run", path.RunID)
	chain := []*node{cur}
	if path.Phase != "" {
		cur = l.child(cur, "phase", path.Phase)
		chain = append(chain, cur)
	}
	if path.AgentID != "" {
		cur = l.child(cur, "agent", path.AgentID)
		chain = append(chain, cur)
	}
	if path.Tool != "" {
		cur = l.child(cur, "tool", path.Tool)
		chain = append(chain, cur)
	}
	return chain
}

func (l *Ledger) child(parent *node, level, name string) *node {
	if existing, ok := parent.children[name]; ok {
		return existing
	}
	n := newNode(level, name)
	parent.children[name] = n
	return n
}

// Admit checks estimatedInputTokens against every ancestor in path,
// denying as soon as one scope would be exceeded.
func (l *Ledger) Admit(_ context.Context, path ScopePath, estimatedInputTokens int64) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	chain := l.chain(path)
	names := path.scopeNames()
	for i, n := range chain {
		if n.limitTokens <= 0 {
			continue
		}
		if n.usedInput+n.usedOutput+estimatedInputTokens > n.limitTokens {
			return Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("%s %q budget exhausted: used %d of %d tokens, requested %d more", names[i].level, names[i].key, n.usedInput+n.usedOutput, n.limitTokens, estimatedInputTokens),
			}
		}
	}
	return Decision{Allowed: true}
}

// Record applies input/output token usage and a dollar cost to every
// ancestor in path atomically, firing a budget_threshold event for any
// scope that crosses the configured ratio for the first time.
func (l *Ledger) Record(ctx context.Context, path ScopePath, inputTokens, outputTokens int64, costUSD float64) {
	l.mu.Lock()
	chain := l.chain(path)
	names := path.scopeNames()
	var crossings []struct {
		level, key string
		usage      Usage
	}
	for i, n := range chain {
		n.usedInput += inputTokens
		n.usedOutput += outputTokens
		n.costUSD += costUSD

		if l.metrics != nil {
			l.metrics.ObserveTokens(path.RunID, n.level, inputTokens, outputTokens)
		}

		if n.limitTokens > 0 && !n.thresholdHit {
			ratio := float64(n.usedInput+n.usedOutput) / float64(n.limitTokens)
			if ratio >= l.thresholdRatio {
				n.thresholdHit = true
				crossings = append(crossings, struct {
					level, key string
					usage      Usage
				}{names[i].level, names[i].key, n.usage()})
			}
		}
	}
	l.mu.Unlock()

	for _, c := range crossings {
		if l.metrics != nil {
			l.metrics.IncThreshold(path.RunID, c.level)
		}
		if l.emitter != nil {
			l.emitter.Publish(ctx, models.Event{
				RunID:     path.RunID,
				Phase:     path.Phase,
				AgentID:   path.AgentID,
				EventType: models.EventBudgetThreshold,
				Message:   fmt.Sprintf("%s %q crossed budget threshold", c.level, c.key),
				Payload: map[string]any{
					"scope":         c.level,
					"scope_key":     c.key,
					"limit_tokens":  c.usage.LimitTokens,
					"input_tokens":  c.usage.InputTokens,
					"output_tokens": c.usage.OutputTokens,
					"cost_usd":      c.usage.CostUSD,
				},
			})
		}
	}
}

// Snapshot returns the usage recorded at the deepest scope named in path.
func (l *Ledger) Snapshot(path ScopePath) Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	chain := l.chain(path)
	return chain[len(chain)-1].usage()
}

// Report is the full breakdown of a run's budget tree, for the CLI's
// `metrics(run_id)` command and for `report()`.
type Report struct {
	RunID  string                   `json:"run_id"`
	Run    Usage                    `json:"run"`
	Phases map[string]PhaseReport   `json:"phases"`
}

// PhaseReport is one phase's usage plus its per-agent breakdown.
type PhaseReport struct {
	Usage  Usage                  `json:"usage"`
	Agents map[string]AgentReport `json:"agents"`
}

// AgentReport is one agent's usage plus its per-tool breakdown.
type AgentReport struct {
	Usage Usage                 `json:"usage"`
	Tools map[string]Usage      `json:"tools"`
}

// Report builds the full usage breakdown for runID.
func (l *Ledger) Report(runID string) Report {
	l.mu.Lock()
	defer l.mu.Unlock()

	runNode, ok := l.root.children[runID]
	if !ok {
		return Report{RunID: runID, Phases: map[string]PhaseReport{}}
	}

	report := Report{RunID: runID, Run: runNode.usage(), Phases: make(map[string]PhaseReport)}
	for phaseName, phaseNode := range runNode.children {
		pr := PhaseReport{Usage: phaseNode.usage(), Agents: make(map[string]AgentReport)}
		for agentName, agentNode := range phaseNode.children {
			ar := AgentReport{Usage: agentNode.usage(), Tools: make(map[string]Usage)}
			for toolName, toolNode := range agentNode.children {
				ar.Tools[toolName] = toolNode.usage()
			}
			pr.Agents[agentName] = ar
		}
		report.Phases[phaseName] = pr
	}
	return report
}
