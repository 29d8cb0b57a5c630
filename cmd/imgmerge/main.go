package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	zerolog.DefaultContextLogger = &log.Logger

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
