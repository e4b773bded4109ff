// Package validation validates configuration structs with struct tags,
// reporting failures against their configuration key names.
//
//	type Settings struct {
//	    BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
//	    Timeout int    `mapstructure:"timeout" validate:"gte=0"`
//	}
//	err := validation.Validate(settings)
package validation
