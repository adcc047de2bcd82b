package normalize_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/umich-balloons/tracker/internal/normalize"
)

func TestNormalizeVoltage(t *testing.T) {
	tests := []struct {
		name       string
		value      any
		strict     bool
		want       float64
		wantScaled bool
		wantErr    bool
	}{
		{name: "millivolts", value: 3892, want: 3.892},
		{name: "millivolts float", value: 3892.17, want: 3.89217},
		{name: "json millivolts", value: json.Number("3892"), want: 3.892},
		{name: "scaled tenths heuristic", value: 38, want: 3.8, wantScaled: true},
		{name: "heuristic lower bound", value: 20, want: 2.0, wantScaled: true},
		{name: "heuristic upper bound", value: 60, want: 6.0, wantScaled: true},
		{name: "json integer hits heuristic", value: json.Number("42"), want: 4.2, wantScaled: true},
		{name: "plain volts", value: 3.8, want: 3.8},
		{name: "float in heuristic range stays volts", value: 38.5, want: 38.5},
		{name: "integer below heuristic range", value: 12, want: 12},
		{name: "integer above heuristic range", value: 100, want: 100},
		{name: "strict mode disables heuristic", value: 38, strict: true, want: 38},
		{name: "negative rejected", value: -1, wantErr: true},
		{name: "negative float rejected", value: -0.5, wantErr: true},
		{name: "string rejected", value: "3.8", wantErr: true},
		{name: "nil rejected", value: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, scaled, err := normalize.NormalizeVoltage(tt.value, tt.strict)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.Equal(t, tt.wantScaled, scaled)
		})
	}
}
