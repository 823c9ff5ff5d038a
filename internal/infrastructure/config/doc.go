// Package config handles loading and validating the agent configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Layering a legacy key=value device file over the device section
//   - Overriding with IOTDM_* environment variables
//   - Deriving the platform broker endpoint and credentials from the device identity
//   - Validation of required fields
//
// Security Considerations:
//   - The device auth token should be set via IOTDM_DEVICE_AUTH_TOKEN
//   - The config and device files should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/iotdm.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.ClientID()) // d:myorg:sensor:dev-01
package config
