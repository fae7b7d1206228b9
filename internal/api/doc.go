// Package api provides the provider REST client.
//
// REST endpoints:
//   - Live: https://api-capital.backend-capital.com
//   - Demo: https://demo-api-capital.backend-capital.com
//
// Every request carries the API key and the current session tokens. A 401
// invalidates the session and the request is retried once with a fresh
// login. Requests are paced by a token-bucket limiter.
package api
