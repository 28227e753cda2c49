// Package httpapi exposes the rental ledger over HTTP using gin.
//
// Handlers bind and validate JSON, pass the request time to the engine and map ledger failure
// kinds onto HTTP status codes. They never decide business rules themselves.
package httpapi
