// Package api hosts the HTTP server, middleware, and handlers of the content
// mirror. Notable routes:
//   - GET /api/health for probes.
//   - GET /api/inblog/content for the composed payload, with preview and refresh toggles.
//   - GET /api/inblog/published for the last published snapshot.
//   - /api/admin/... for the session gate and the draft/publish workflow.
//   - GET /metrics for Prometheus scraping.
package api
