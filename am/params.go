package am

import (
	"github.com/go-viper/mapstructure/v2"

	"github.com/teranos/bfhtw/errors"
)

// DecodeParams decodes a pipeline's free-form parameters into a typed struct.
// Input is weakly typed so "50" and 50 both decode into an int field.
func DecodeParams(params map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		Result:           out,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return errors.Wrap(err, "build parameter decoder")
	}
	if err := dec.Decode(params); err != nil {
		return errors.MarkConfiguration(errors.Wrap(err, "decode pipeline parameters"))
	}
	return nil
}

// MergeParams returns a new map holding base overlaid with overrides
func MergeParams(base, overrides map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
