package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArgmaxStrategy(t *testing.T) {
	cases := []struct {
		name   string
		counts map[string]int64
		want   string
	}{
		{"single", map[string]int64{"2-hop": 3}, "2-hop"},
		{"clear winner", map[string]int64{"2-hop": 1, "3-hop": 5}, "3-hop"},
		{"tie breaks lexicographically", map[string]int64{"3-hop": 2, "2-hop": 2}, "2-hop"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, argmaxStrategy(tc.counts))
		})
	}
}
