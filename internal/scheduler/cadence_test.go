package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCadence(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"30 seconds", 30 * time.Second},
		{"5 minutes", 5 * time.Minute},
		{"1 hour", time.Hour},
		{"2 days", 48 * time.Hour},
		{"1 week", 7 * 24 * time.Hour},
		{"10 Minutes", 10 * time.Minute},
	}
	for _, c := range cases {
		got, err := ParseCadence(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestParseCadenceErrors(t *testing.T) {
	for _, in := range []string{"", "five minutes", "5", "5 fortnights", "-1 hours"} {
		_, err := ParseCadence(in)
		assert.Error(t, err, in)
	}
}
