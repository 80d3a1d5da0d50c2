// Package cache is a thread-safe keyed store whose entries expire a fixed
// TTL after their last Put. Fresh reads skip expired entries; Run evicts them
// in the background at half the TTL (minimum one second).
package cache
