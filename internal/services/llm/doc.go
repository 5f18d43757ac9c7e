// Package llm provides an OpenAI-compatible chat client for JSON completions.
//
// Every analyzer in internal/analysis sends its prompts through this client.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.WithModel: copy targeting another model (Wave 2 uses the deep model).
// Client.CompleteJSON: send system/user prompts, receive the JSON payload.
// Client.HealthCheck: verify API key and model availability.
// DecodeLLMJSON: tolerant decoding of fenced or prose-wrapped JSON.
//
// # Errors
//
// The client makes exactly one request per call. Non-2xx responses come back
// as *StatusError: 408, 429 and 5xx match services.ErrTransient and carry any
// Retry-After hint; other statuses match services.ErrConfiguration so retry
// loops give up immediately. A 2xx response with no usable content is an
// *EmptyContentError. Retrying is internal/retry's job.
package llm
