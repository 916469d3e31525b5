// Package config handles loading and validating orchestrator node configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (ORCHESTRATOR_*)
//   - Validation of required fields and cross-section dependencies
//   - Default value handling
//
// Node configuration is distinct from device configuration: this file says
// how the process connects to the broker, database and API, while each
// device's schedule and children live in a parameter set fetched by
// reference (see package paramset and package provision).
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/orchestrator.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Node.Host)
package config
