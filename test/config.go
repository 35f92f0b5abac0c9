package test

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// CHAT_TEST_RECEIVE_TIMEOUT bounds how long a scenario waits for one frame
	ReceiveTimeout time.Duration `envconfig:"CHAT_TEST_RECEIVE_TIMEOUT" default:"2s"`
	// CHAT_TEST_SILENCE_WINDOW is how long a frame must NOT arrive to count as absent
	SilenceWindow time.Duration `envconfig:"CHAT_TEST_SILENCE_WINDOW" default:"300ms"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
