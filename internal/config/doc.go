// Package config loads the service configuration from YAML.
//
// Values of the form ${VAR} are expanded from the environment, and a .env
// file is loaded into the environment first when present, so credentials
// can stay out of the YAML file.
package config
