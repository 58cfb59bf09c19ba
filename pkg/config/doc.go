// Package config defines the pool configuration snapshot.
//
// A PoolConfig describes how a pool admits callers, how it establishes and
// recycles sessions, and how it forwards asynchronous server messages. Once a
// *PoolConfig has been handed to a pool it must be treated as immutable:
// sessions remember the exact snapshot they were created under, and the pool
// compares snapshots by pointer identity when deciding whether a returned
// session may be reused. To change settings at runtime, Clone the current
// snapshot, modify the copy, and pass it to the pool's ReplaceConfig.
//
// The configuration is organized into logical sections:
//   - Admission: MaxConnections, Timeouts.Wait
//   - Establishment: ConnString, MaxRetries, Timeouts.Create, Breaker
//   - Reuse: RecyclingMethod, Timeouts.Recycle
//   - Push messages: ChannelSize, NotifySendTimeout
//   - Statement caches: CleanupInterval
//
// Example usage:
//
//	cfg := config.NewPoolConfig("postgres://app@localhost/app")
//	cfg.MaxConnections = 16
//	cfg.Timeouts = config.NoTimeouts().WithWait(2 * time.Second)
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//
// Configurations can also be loaded from YAML with ${ENV} substitution:
//
//	name: primary
//	conn_string: ${DATABASE_URL}
//	max_connections: 16
//	recycling_method: verified
//	timeouts:
//	  wait: 2s
//	  create: 5s
package config
