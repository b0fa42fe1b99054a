// Package ops serves the operator endpoints of a running bot.
//
// # Endpoints
//
// HTTP (chi router):
//
//   - GET /health: liveness, always 200 while the process runs
//   - GET /health/ready: 200 once the Matrix sync loop is running, 503 before
//   - GET /metrics: Prometheus exposition of the bot's private registry
//   - GET /rooms: JSON list of rooms with a running worker
//
// gRPC: the standard grpc.health.v1 service. The overall status follows
// readiness and flips to NOT_SERVING during shutdown.
//
// Either listener is skipped when its address is empty.
package ops
