/*
Package config provides typed configuration extraction for the event bus.

# Overview

config wraps a map[string]any and provides typed accessor methods that handle
missing keys and type mismatches gracefully by returning default values.
A loaded file layers over the bus's built-in defaults: the scheduler reads
its section through Bool/Int/Duration, worker settings add String, and Sub
walks nested sections without verbose type assertions and nil checks.

# Basic Usage

Create a Config from any map and extract values with defaults:

	cfg := config.New(map[string]any{
	    "poll_interval": "5s",
	    "pool_size":     4,
	    "enabled":       true,
	})

	interval := cfg.Duration("poll_interval", 10*time.Second) // 5s
	pool := cfg.Int("pool_size", 8)                           // 4
	enabled := cfg.Bool("enabled", false)                     // true
	missing := cfg.String("missing", "default")               // "default"

Nested sections are reached with Sub:

	sched := cfg.Sub("scheduler")
	batch := sched.Int("poll_batch_size", 50)

# Type Coercion

Duration handles multiple input types:
  - string: parsed with time.ParseDuration ("30s", "1h30m")
  - int/float64: interpreted as seconds
  - time.Duration: used directly

Numeric types handle reasonable conversions:
  - int from float64 (truncated)

All methods return the default value if:
  - The key is missing
  - The value cannot be converted to the requested type
  - The conversion would lose precision (e.g., float to int with fraction)

# File Loading

Load configuration from YAML or JSON files:

	cfg, err := config.FromFile("config.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	// Or load from bytes
	cfg, err = config.FromYAML(yamlBytes)
	cfg, err = config.FromJSON(jsonBytes)

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation. However, if the original map is modified
externally, behavior is undefined.
*/
package config
