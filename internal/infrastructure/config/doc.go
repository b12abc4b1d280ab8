// Package config handles loading and validating School Docs Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SCHOOLDOCS_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Secrets (JWT secret, MQTT password, InfluxDB token) belong in the environment
//   - The config file should have restricted permissions (0600)
//
// The roles section only extends the built-in admin allow-list. It cannot
// remove the built-in entries.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.School.Name)
package config
