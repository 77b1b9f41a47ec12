// Package config handles loading and validating the CMV bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Per-device defaults (port 5001, 10 second exchange timeout)
//   - Overriding with environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - The MQTT password should be set via GRAYLOGIC_MQTT_PASSWORD
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, d := range cfg.Devices {
//	    fmt.Println(d.ID(), d.Address())
//	}
package config
