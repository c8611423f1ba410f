// Package config loads and validates devicelink core configuration.
//
// Loading order:
//   - built-in defaults
//   - the YAML file (path from DEVICELINK_CONFIG, default configs/config.yaml)
//   - DEVICELINK_* environment variables
//
// Secrets (JWT secret, MQTT password, InfluxDB token) belong in the
// environment, not the file. Validate reports every problem in one error.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
package config
