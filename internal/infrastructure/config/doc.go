// Package config handles loading and validating Waterline configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// One config file format serves all three Waterline binaries (agent, bridge,
// core); each binary reads only the sections relevant to its role.
//
// Security Considerations:
//   - Sensitive values (broker passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Device credentials are NOT part of this config; they live in the
//     provisioned credential file loaded by the identity package
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
