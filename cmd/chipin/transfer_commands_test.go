package main

import (
	"testing"

	"github.com/chipin/chipin/client"
	"github.com/itchyny/gojq"
	"github.com/stretchr/testify/require"
)

func compileFilters(t *testing.T, exprs ...string) []*gojq.Code {
	t.Helper()
	codes := make([]*gojq.Code, len(exprs))
	for i, expr := range exprs {
		query, err := gojq.Parse(expr)
		require.NoError(t, err)
		codes[i], err = gojq.Compile(query)
		require.NoError(t, err)
	}
	return codes
}

func TestMatchesJQ(t *testing.T) {
	transfer := &client.Transfer{
		ID:                 "t-1",
		Context:            "send_1to1",
		UserID:             "user-1",
		Amount:             12_500_000,
		AmountDisplay:      "12.500000",
		Currency:           "USDC",
		Status:             "success",
		Signature:          "sig-abc",
		DestinationAddress: "DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy",
	}

	tests := []struct {
		name        string
		filters     []string
		expectMatch bool
	}{
		{
			name:        "status match",
			filters:     []string{`.status == "success"`},
			expectMatch: true,
		},
		{
			name:        "status mismatch",
			filters:     []string{`.status == "definite_failure"`},
			expectMatch: false,
		},
		{
			name:        "amount threshold",
			filters:     []string{`.amount > 10000000`},
			expectMatch: true,
		},
		{
			name:        "all filters must match",
			filters:     []string{`.status == "success"`, `.amount > 100000000`},
			expectMatch: false,
		},
		{
			name:        "contains on object",
			filters:     []string{`. | contains({signature: "sig-abc"})`},
			expectMatch: true,
		},
		{
			name:        "field selection is truthy",
			filters:     []string{`.signature`},
			expectMatch: true,
		},
		{
			name:        "missing field is falsy",
			filters:     []string{`.memo`},
			expectMatch: false,
		},
		{
			name:        "no filters always matches",
			filters:     nil,
			expectMatch: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codes := compileFilters(t, tt.filters...)
			ok, err := matchesJQ(transfer, codes)
			require.NoError(t, err)
			require.Equal(t, tt.expectMatch, ok)
		})
	}
}

func TestIsTruthy(t *testing.T) {
	tests := []struct {
		name   string
		value  interface{}
		truthy bool
	}{
		{"nil", nil, false},
		{"false", false, false},
		{"true", true, true},
		{"zero number", 0.0, true},
		{"empty string", "", true},
		{"object", map[string]interface{}{}, true},
		{"array", []interface{}{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.truthy, isTruthy(tt.value))
		})
	}
}
