package main

import "testing"

func TestGetSignalStrength(t *testing.T) {
	tests := []struct {
		rssi int16
		want string
	}{
		{-40, "Excellent"},
		{-50, "Excellent"},
		{-55, "Good"},
		{-65, "Fair"},
		{-75, "Weak"},
		{-95, "Very Weak"},
	}

	for _, tt := range tests {
		if got := getSignalStrength(tt.rssi).label; got != tt.want {
			t.Errorf("getSignalStrength(%d) = %q, want %q", tt.rssi, got, tt.want)
		}
	}
}
