package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevels(t *testing.T) {
	levels, err := parseLevels([]byte(`[
		{"productId": "p1", "stockQuantity": 5, "name": "Keyboard"},
		{"id": 42, "quantity": 0}
	]`))
	require.NoError(t, err)
	assert.Equal(t, []level{
		{ProductID: "p1", Quantity: 5},
		{ProductID: "42", Quantity: 0},
	}, levels)
}

func TestParseLevels_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "missing id", data: `[{"stockQuantity": 1}]`, want: "without product id"},
		{name: "missing quantity", data: `[{"productId": "p1"}]`, want: "zero or more"},
		{name: "negative", data: `[{"productId": "p1", "stockQuantity": -3}]`, want: "zero or more"},
		{name: "not an array", data: `{}`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseLevels([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
