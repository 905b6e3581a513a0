// Package config handles loading and validating Tep component configuration.
//
// This package manages:
//   - Loading configuration from YAML or TOML files
//   - Picking up a sibling .env file for local development
//   - Overriding with TEP_* environment variables
//   - Validation of required fields and interval relationships
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/speech.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Component.Name)
package config
