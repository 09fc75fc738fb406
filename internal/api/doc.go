// Package api exposes the subscription and operator HTTP endpoints. Handlers
// decode and validate requests, call the services and translate their errors
// to status codes without leaking internal details.
package api
