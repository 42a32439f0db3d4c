// Package cache provides a small caching interface over two backends:
//   - github.com/patrickmn/go-cache for local in-memory caching
//   - github.com/go-redis/redis/v8 for caching shared between instances
//
// TwoTierCache layers the two, reading process memory first.
package cache
