// Package auth provides authentication middleware for the fleetscore server.
//
// APIKey(mode, header, key, exempt...) returns HTTP middleware that validates
// the API key from the named request header.
//
// When mode != "apikey" or key == "", all requests pass through (useful for
// local development with auth disabled). When the key is incorrect or absent,
// the middleware answers 401 with a JSON error body. Paths listed in exempt,
// such as health checks and /metrics, are never checked.
package auth
