package notifications

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeAddress(t *testing.T) {
	tests := []struct {
		name     string
		item     string
		task     string
		expected string
	}{
		{"plus with empty item", "", "+admin@x.com", ";admin@x.com"},
		{"plus appends to item", "a@x.com", "+admin@x.com", "a@x.com;admin@x.com"},
		{"empty item takes task", "", "b@x.com", "b@x.com"},
		{"task wins outright", "a@x.com", "b@x.com", "b@x.com"},
		{"empty task keeps item", "a@x.com", "", "a@x.com"},
		{"single char task keeps item", "a@x.com", "x", "a@x.com"},
		{"both empty", "", "", ""},
		{"lone plus", "a@x.com", "+", "a@x.com;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MergeAddress(tt.item, tt.task))
		})
	}
}

func TestSplitAddresses(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"", []string{}},
		{"a@x.com", []string{"a@x.com"}},
		{"a@x.com; b@x.com", []string{"a@x.com", "b@x.com"}},
		{";admin@x.com", []string{"admin@x.com"}},
		{" a@x.com ,, b@x.com ;; c@x.com ", []string{"a@x.com", "b@x.com", "c@x.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitAddresses(tt.input))
		})
	}
}
