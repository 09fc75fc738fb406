// Package auth issues and validates the signed recipient tokens embedded in
// unsubscribe and preference links, and verifies the operator bearer token
// that guards the administrative endpoints.
package auth
