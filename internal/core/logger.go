package core

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger switches the global logger to console output, with debug
// messages in development only
func InitLogger(env Environment) {
	cw := zerolog.NewConsoleWriter()
	log.Logger = log.Output(cw)

	level := zerolog.InfoLevel
	if env.IsDevelopment() {
		level = zerolog.DebugLevel
	}

	zerolog.SetGlobalLevel(level)
}
