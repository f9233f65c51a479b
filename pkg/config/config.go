package config

import "strings"

// KebabToSnakeCase converts a flag name like "metrics-port" into the viper key "metrics_port"
func KebabToSnakeCase(str string) string {
	return strings.ReplaceAll(str, "-", "_")
}

// NormalizeFlagName returns the viper key a flag is bound under
func NormalizeFlagName(name string) string {
	return KebabToSnakeCase(name)
}
