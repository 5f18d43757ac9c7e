// Package api serves the TherapyBridge HTTP surface on echo.
//
// Every route except initialize and health requires a demo token, taken from
// X-Demo-Token or an Authorization bearer header, and is scoped to that
// token's patient. Handlers never report analysis failures; clients learn
// about incomplete analysis only by polling /api/demo/status.
//
// Errors are JSON objects of the form {"error": "..."}. Store and launcher
// failures surface as 500 with a generic message and are logged with the
// request id.
package api
