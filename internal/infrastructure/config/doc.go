// Package config handles loading and validating the web thing server configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (WEBTHING_*)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, JWT secret) should be
//     set via environment variables
//   - When bearer auth is enabled the JWT secret must be at least 32 characters
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.Port)
package config
