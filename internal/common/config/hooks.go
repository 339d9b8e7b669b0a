package config

import (
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// CustomHooks are applied when unmarshalling viper configuration into structs. Domain enums implement
// encoding.TextUnmarshaler and are decoded through TextUnmarshallerHookFunc.
var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		DelimiterDecodeHook(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)),
}

// Delimiter is a field separator that may be given in config files by name ("tab", "comma", ...) since some of
// them are awkward to write in YAML.
type Delimiter string

var namedDelimiters = map[string]Delimiter{
	"tab":       "\t",
	"comma":     ",",
	"semicolon": ";",
	"pipe":      "|",
	"space":     " ",
}

// DelimiterDecodeHook converts delimiter names (and the escaped form "\t") to the delimiter itself.
func DelimiterDecodeHook() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(Delimiter("")) {
			return data, nil
		}
		s := data.(string)
		if d, ok := namedDelimiters[strings.ToLower(s)]; ok {
			return d, nil
		}
		if s == `\t` {
			return Delimiter("\t"), nil
		}
		return Delimiter(s), nil
	}
}
