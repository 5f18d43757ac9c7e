// Package jobs launches and stops background analysis pipelines.
//
// A Launcher spawns "worker pipeline" in its own process group and records the
// pid and pgid in the durable jobs table. Stop, StopAll, and Reconcile read the
// pgid back from that table, so any process holding the store can stop or
// reconcile a pipeline it did not start. On Linux the leader's start ticks are
// stored too, and a group whose leader started at a different time is treated
// as gone rather than signalled.
//
// Inside the detached process, Pipeline takes the per-patient file lock and
// runs each step as a child process in the same group, so signalling the group
// reaches everything the pipeline started.
package jobs
