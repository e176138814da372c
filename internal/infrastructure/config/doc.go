// Package config handles loading and validating relaysync configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with RELAYSYNC_* environment variables
//   - Validation of required fields
//   - The device inventory (one entry per relay, switch, or actuator)
//
// Security Considerations:
//   - Device API keys, broker passwords and the JWT secret should come from
//     environment variables or a file with restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/relaysync.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bridge.ID, len(cfg.Devices))
package config
