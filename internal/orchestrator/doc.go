// Package orchestrator drives the two analysis waves for a patient.
//
// Wave 1 fans out mood, topic, and breakthrough calls for every session at
// once (bounded by analysis.wave1_concurrency) and waits for all of them.
// Wave 2 then re-reads the store and runs deep analysis followed by prose for
// each session whose Wave 1 fields are all populated.
//
// Every call goes through retry.Policy; a call that exhausts its attempts
// leaves its columns null and is recorded in the wave summary. Work already in
// the store is skipped, so rerunning after a stop resumes where it froze.
package orchestrator
