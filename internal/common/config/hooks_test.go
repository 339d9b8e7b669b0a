package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hookTarget struct {
	Delimiter Delimiter
	Window    time.Duration
	Ports     []string
}

func TestCustomHooks(t *testing.T) {
	tests := map[string]struct {
		delimiter string
		expected  Delimiter
	}{
		"named tab":   {"tab", "\t"},
		"escaped tab": {`\t`, "\t"},
		"named comma": {"Comma", ","},
		"literal":     {":", ":"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			v := viper.New()
			v.Set("delimiter", tc.delimiter)
			v.Set("window", "1500ms")
			v.Set("ports", "a:1,b:2")

			var target hookTarget
			require.NoError(t, v.Unmarshal(&target, CustomHooks...))
			assert.Equal(t, tc.expected, target.Delimiter)
			assert.Equal(t, 1500*time.Millisecond, target.Window)
			assert.Equal(t, []string{"a:1", "b:2"}, target.Ports)
		})
	}
}

func TestValidate(t *testing.T) {
	type cfg struct {
		Name string  `validate:"required"`
		Rate float64 `validate:"gt=0"`
	}
	assert.NoError(t, Validate(cfg{Name: "x", Rate: 1}))
	assert.Error(t, Validate(cfg{Rate: 1}))
	assert.Error(t, Validate(cfg{Name: "x"}))
}
