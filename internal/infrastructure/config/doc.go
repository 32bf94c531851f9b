// Package config handles loading and validating sidebandd configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SIDEBAND_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via environment variables
//   - control.exclusive restricts the control socket to the daemon's user
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Control.SocketPath)
package config
