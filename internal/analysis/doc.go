// Package analysis implements the five per-session analyzers.
//
// Wave 1 analyzers (Mood, Topic, Breakthrough) read a transcript. Wave 2
// analyzers read the transcript plus earlier results: Deep takes the Wave 1
// fields, Prose takes the Deep result. Each Analyze call renders a prompt from
// the embedded prompts.yaml, makes exactly one completion request, and
// validates the JSON reply into a typed result.
//
// Failures come back as ErrProvider (request failed; the llm error is kept in
// the chain so retry hints survive) or ErrMalformedResponse (reply did not fit
// the schema). Retrying is the orchestrator's job.
package analysis
