// Command therapybridge runs the TherapyBridge analysis backend.
//
// "serve" hosts the HTTP API and launches detached analysis pipelines;
// "analyze" runs both waves in the foreground; "status", "stop" and "jobs"
// read and control pipelines directly through the store, so they work whether
// or not a server is running. The hidden "worker" commands are what the
// launcher spawns.
package main
