// Package server assembles the Fiber application in front of the cache
// engine: the wildcard GET/HEAD route that streams blobs, the operator
// /reload endpoint, and the static root/robots/health routes. Handlers only
// translate HTTP into engine calls and engine errors into status codes; all
// caching decisions live in internal/cache.
package server
