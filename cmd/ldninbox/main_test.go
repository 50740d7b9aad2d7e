package main

import (
	"testing"
	"time"
)

func TestRequestTimeout(t *testing.T) {
	tests := []struct {
		delivery time.Duration
		want     time.Duration
	}{
		{delivery: 10 * time.Second, want: 25 * time.Second},
		{delivery: 2 * time.Minute, want: 2*time.Minute + 15*time.Second},
		{delivery: 0, want: 25 * time.Second},
	}

	for _, tt := range tests {
		got := requestTimeout(tt.delivery)
		if got != tt.want {
			t.Errorf("requestTimeout(%s): expected %s, got %s", tt.delivery, tt.want, got)
		}
		if got <= tt.delivery {
			t.Errorf("requestTimeout(%s) must outlast the delivery timeout", tt.delivery)
		}
	}
}
