// Package service contains the subscription use cases behind the HTTP and
// CLI surfaces. It orchestrates the stores (internal/store), the category
// catalog and the schedule calculator, applying transactional boundaries
// where an operation reads and writes the same recipient.
//
// Service methods return sentinel errors from internal/store and
// internal/domain for expected conditions, wrapped in RecipientServiceError
// with the failed operation. Callers inspect them with errors.Is and the API
// layer maps them to status codes.
package service
