package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"info":     zerolog.InfoLevel,
		"INFO":     zerolog.InfoLevel,
		" debug ":  zerolog.DebugLevel,
		"trace":    zerolog.TraceLevel,
		"warn":     zerolog.WarnLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"fatal":    zerolog.FatalLevel,
		"disabled": zerolog.Disabled,
		"bogus":    zerolog.InfoLevel,
	}
	for input, want := range cases {
		assert.Equal(t, want, ParseLevel(input), "level %q", input)
	}
}

func TestInitAppliesLevelAndDebugOverride(t *testing.T) {
	Init(Config{Level: "warn"})
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	Init(Config{Level: "warn", Debug: true})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	// Restore a sane default for other tests in the package.
	Init(Config{Level: "info"})
}

func TestSelectWriterFallsBackToJSON(t *testing.T) {
	prev := isTerminalFn
	isTerminalFn = func(fd int) bool { return false }
	defer func() { isTerminalFn = prev }()

	// Non-terminal stderr in auto mode writes raw JSON.
	assert.NotNil(t, selectWriter("auto"))
	assert.NotNil(t, selectWriter("json"))
	assert.NotNil(t, selectWriter("console"))
}
