package config_test

import (
	"fmt"
	"log"
	"time"

	"github.com/ajitpratap0/pgpool/pkg/config"
)

// ExampleNewPoolConfig demonstrates creating a pool configuration with
// explicit checkout deadlines.
func ExampleNewPoolConfig() {
	cfg := config.NewPoolConfig("postgres://app@localhost/app")
	cfg.MaxConnections = 8
	cfg.Timeouts = config.NoTimeouts().WithWait(2 * time.Second)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Printf("Database: %s\n", cfg.Database())
	fmt.Printf("Max Connections: %d\n", cfg.MaxConnections)
	fmt.Printf("Wait Timeout: %s\n", *cfg.Timeouts.Wait)

	// Output:
	// Database: app
	// Max Connections: 8
	// Wait Timeout: 2s
}
