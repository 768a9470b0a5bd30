package common

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{input: "30s", want: 30 * time.Second},
		{input: "5m", want: 5 * time.Minute},
		{input: "1h30m", want: 90 * time.Minute},
		{input: "250ms", want: 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var d Duration
			require.NoError(t, d.UnmarshalText([]byte(tt.input)))
			require.Equal(t, tt.want, d.Duration)
		})
	}
}

func TestDuration_UnmarshalTextInvalid(t *testing.T) {
	var d Duration
	err := d.UnmarshalText([]byte("soon"))
	require.Error(t, err)
	require.Contains(t, err.Error(), `invalid duration "soon"`)
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	original := NewDuration(90 * time.Second)

	data, err := json.Marshal(original)
	require.NoError(t, err)
	require.Equal(t, `"1m30s"`, string(data))

	var decoded Duration
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, original, decoded)
}

func TestDuration_UnmarshalJSONNumber(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte("1500000000"), &d))
	require.Equal(t, 1500*time.Millisecond, d.Duration)
}

func TestDuration_UnmarshalJSONInvalid(t *testing.T) {
	var d Duration
	require.Error(t, json.Unmarshal([]byte("true"), &d))
}
