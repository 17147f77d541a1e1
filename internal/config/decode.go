package config

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

var durationType = reflect.TypeOf(time.Duration(0))

// durationHook decodes Go duration strings ("500ms") and plain numbers,
// which are read as seconds ("0.5", 0.5, 2).
func durationHook() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			s := strings.TrimSpace(v)
			if d, err := time.ParseDuration(s); err == nil {
				return d, nil
			}
			secs, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, err
			}
			return seconds(secs), nil
		case float64:
			return seconds(v), nil
		case float32:
			return seconds(float64(v)), nil
		case int:
			return seconds(float64(v)), nil
		case int64:
			return seconds(float64(v)), nil
		default:
			return data, nil
		}
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func decodeHooks() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationHook(),
		mapstructure.StringToSliceHookFunc(","),
	))
}
