// Package router implements the pure worker-selection function the
// PoolManager and MasterAPI's sync-delegate path call to pick which worker
// a pending task should go to. It holds no state and mutates nothing: the
// same (task, workers) pair always yields the same answer.
package router

import (
	"github.com/hama-jp/koubou-go/internal/task"
)

// Class is the coarse worker category a PriorityRule can prefer.
type Class string

const (
	ClassLocal  Class = "local"
	ClassRemote Class = "remote"
)

// PriorityRule restricts candidate workers by task priority range.
type PriorityRule struct {
	Min           int
	Max           int
	Prefer        []Class
	FallbackLocal bool
}

// Strategy names the configured routing policy. Only Router's default
// scoring rule (load_balanced) is implemented as actual selection logic;
// the others are recognized config values that currently fall back to the
// same scoring function, mirroring how a single default strategy covers
// every case in the reference system's ad hoc node-selection code.
type Strategy string

const (
	StrategyLoadBalanced   Strategy = "load_balanced"
	StrategyPriorityBased  Strategy = "priority_based"
	StrategyRoundRobin     Strategy = "round_robin"
	StrategyGeographic     Strategy = "geographic"
	StrategyCapabilityBase Strategy = "capability_based"
)

// Config tunes Route's behavior.
type Config struct {
	Strategy Strategy
	Rules    []PriorityRule
}

// DefaultConfig is load_balanced with no priority rules.
func DefaultConfig() Config {
	return Config{Strategy: StrategyLoadBalanced}
}

// Router selects a worker for a task from the workers it is given: prefer an
// idle preferred worker, apply the local-busy fast path and priority-rule
// location preference, score the survivors, pick the max. It does not filter
// by liveness or idleness itself; the caller passes the candidate set.
type Router struct {
	cfg Config
}

// New builds a Router with the given configuration.
func New(cfg Config) *Router {
	return &Router{cfg: cfg}
}

// Route returns the chosen worker's id, or nil if workers is empty.
func (r *Router) Route(t *task.Task, workers []*task.Worker) *string {
	if len(workers) == 0 {
		return nil
	}

	// Step 1: preferred worker, if idle.
	if t.PreferredWorker != "" {
		for _, w := range workers {
			if w.ID == t.PreferredWorker && w.IsIdle() {
				id := w.ID
				return &id
			}
		}
	}

	// Step 2: local-busy fast-path to remote.
	candidates := workers
	if !anyIdleLocal(workers) {
		if remotes := filterClass(workers, ClassRemote); len(remotes) > 0 {
			candidates = remotes
		}
	}

	// Step 3: priority rules.
	candidates = r.applyPriorityRules(t.Priority, candidates, workers)

	// Step 4: max score among remaining candidates.
	if best := bestByScore(candidates); best != nil {
		id := best.ID
		return &id
	}

	// Step 5: fall back to the first element of the original input.
	id := workers[0].ID
	return &id
}

func anyIdleLocal(workers []*task.Worker) bool {
	for _, w := range workers {
		if w.Location == task.LocationLocal && w.IsIdle() {
			return true
		}
	}
	return false
}

func filterClass(workers []*task.Worker, class Class) []*task.Worker {
	var out []*task.Worker
	for _, w := range workers {
		if classOf(w) == class {
			out = append(out, w)
		}
	}
	return out
}

func classOf(w *task.Worker) Class {
	if w.Location == task.LocationRemote {
		return ClassRemote
	}
	return ClassLocal
}

func (r *Router) applyPriorityRules(priority int, candidates, all []*task.Worker) []*task.Worker {
	for _, rule := range r.cfg.Rules {
		if priority < rule.Min || priority > rule.Max {
			continue
		}
		restricted := restrictToClasses(candidates, rule.Prefer)
		if len(restricted) == 0 && rule.FallbackLocal {
			restricted = filterClass(all, ClassLocal)
		}
		if len(restricted) > 0 {
			return restricted
		}
		return candidates // matching rule, but nothing survived restriction and no fallback
	}
	return candidates
}

func restrictToClasses(workers []*task.Worker, classes []Class) []*task.Worker {
	if len(classes) == 0 {
		return workers
	}
	allowed := make(map[Class]bool, len(classes))
	for _, c := range classes {
		allowed[c] = true
	}
	var out []*task.Worker
	for _, w := range workers {
		if allowed[classOf(w)] {
			out = append(out, w)
		}
	}
	return out
}

// Score combines performance, current load and historical reliability:
// 100*performance_factor + (50 if idle else -30 if busy) + 30*success_rate.
func Score(w *task.Worker) float64 {
	score := 100 * w.PerformanceFactor
	switch w.Status {
	case task.WorkerIdle:
		score += 50
	case task.WorkerBusy:
		score -= 30
	}
	score += 30 * w.SuccessRate()
	return score
}

func bestByScore(workers []*task.Worker) *task.Worker {
	var best *task.Worker
	var bestScore float64
	for _, w := range workers {
		sc := Score(w)
		if best == nil || sc > bestScore {
			best = w
			bestScore = sc
		}
	}
	return best
}
