// Package server exposes an Engine over HTTP.
//
// Routes:
//
//	GET  /search/{query}    ranked recommendations for a path-encoded query
//	POST /api/recommend     ranked recommendations for {"query": "..."}
//	GET  /api/image-search  one representative image URL for ?query=
//	GET  /api/health        liveness
//	GET  /metrics           Prometheus metrics, when configured
//
// Result lists are JSON arrays of objects keyed Name, Url, Telephone,
// Address, Tags and score. Empty cells and non-finite scores are encoded
// as null.
package server
