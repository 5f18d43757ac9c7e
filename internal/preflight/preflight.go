package preflight

import (
	"context"

	"therapybridge/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Pinger is satisfied by the session store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunAll executes all applicable preflight checks for the given config. The
// store check is skipped when st is nil; the LLM checks only run when
// includeLLM is set because each costs a completion.
func RunAll(ctx context.Context, cfg *config.Config, st Pinger, includeLLM bool) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if st != nil {
		results = append(results, CheckStore(ctx, cfg.Store.Driver, st))
	}
	results = append(results, CheckExecutable("Pipeline executable", cfg.Jobs.Executable))

	if includeLLM {
		results = append(results, CheckLLM(ctx, "LLM", cfg.LLM, cfg.LLM.Model))
		// The deep model shares the endpoint; only its name can differ.
		if cfg.LLM.DeepModel != "" && cfg.LLM.DeepModel != cfg.LLM.Model {
			results = append(results, CheckLLM(ctx, "Deep analysis LLM", cfg.LLM, cfg.LLM.DeepModel))
		}
	}

	if cfg.Events.AMQPURL != "" {
		results = append(results, CheckEventsBroker(cfg.Events.AMQPURL, cfg.Events.Exchange))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
