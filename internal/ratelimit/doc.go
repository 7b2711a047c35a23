// Package ratelimit keeps a token bucket per client.
//
// A Registry maps client keys (usually the caller's IP) to rate.Limiter
// values. Idle clients are pruned once a minute and the registry never holds
// more than MaxClients buckets; the least recently seen client is evicted
// first. Middleware and UnaryInterceptor apply a registry to HTTP handlers
// and gRPC services.
package ratelimit
