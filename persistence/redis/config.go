package redis

import (
	"time"

	rd "github.com/go-redis/redis/v9"
)

const DefaultPoolSize = 20

// Config describes the redis deployment backing the stats store. A single
// address gives a plain client, several give a cluster client.
type Config struct {
	Addrs     []string
	Namespace string
	Password  string
	// PoolSize is per node; zero means DefaultPoolSize.
	PoolSize int
	// Timeout bounds dial, read and write; zero keeps the client defaults.
	Timeout time.Duration
}

func (c Config) options() *rd.UniversalOptions {
	poolSize := c.PoolSize
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	return &rd.UniversalOptions{
		Addrs:        c.Addrs,
		Password:     c.Password,
		PoolSize:     poolSize,
		DialTimeout:  c.Timeout,
		ReadTimeout:  c.Timeout,
		WriteTimeout: c.Timeout,
	}
}
