package testlog

import (
	"testing"

	"github.com/rs/zerolog"
)

// Start returns a logger that routes through t.Log for one test.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	return zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
}
