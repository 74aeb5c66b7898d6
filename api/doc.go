// Package api provides OpenAPI/Swagger documentation for the relay
// service's HTTP surface.
//
// # API Overview
//
// The relay exposes a RESTful API for:
//   - Chat completions (non-streaming and SSE) routed across registered
//     providers
//   - Provider listing and enable/priority management
//   - Provider health monitoring
//
// # Authentication
//
// Most API endpoints require authentication via the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// # Generating Documentation
//
// To regenerate Swagger documentation using swag:
//
//	swag init -g cmd/relay/main.go -o api --parseDependency --parseInternal
package api
