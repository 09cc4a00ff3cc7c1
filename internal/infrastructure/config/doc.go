// Package config handles loading and validating Hyperion bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML or TOML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Setting security.jwt.secret turns on bearer authentication for /api/v1
//
// Environment Variables:
//
//	HYPERION_ADDRESS, HYPERION_PORT, HYPERION_PRIORITY   Hyperion server
//	SERVER_PORT                                          HTTP listen port
//	HYPERIONBRIDGE_<SECTION>_<KEY>                       everything else
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Hyperion.Address)
package config
