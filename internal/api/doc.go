// Package api exposes the operational HTTP surface of the keeper daemon:
// a status endpoint reporting the cached leader and block checkpoint, a
// health probe, and Prometheus-style metrics exposition.
package api
