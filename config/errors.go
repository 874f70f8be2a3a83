package config

import "fmt"

// ConfigError reports an invalid value in the config file
type ConfigError struct {
	Channel int
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: channel %d: %s: %s", e.Channel, e.Field, e.Message)
}
