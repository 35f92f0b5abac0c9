package main

import "time"

type Config struct {
	LogLevel                  string        `env:"LOG_LEVEL,default=INFO"`
	Host                      string        `env:"HOST,default=localhost"`
	Port                      int           `env:"PORT,default=8080"`
	BadgerFilepath            string        `env:"BADGER_FILEPATH,required=true"`
	SearchIndexPath           string        `env:"SEARCH_INDEX_PATH,required=true"`
	UploadDir                 string        `env:"UPLOAD_DIR,default=uploads/images"`
	MaxImageBytes             int64         `env:"MAX_IMAGE_BYTES,default=5242880"`
	EventBufferSize           int           `env:"EVENT_BUFFER_SIZE,default=256"`
	SinkTimeout               time.Duration `env:"SINK_TIMEOUT,default=2s"`
	ModerationCharReplacement rune          `env:"MODERATION_CHARACTER_REPLACEMENT,default=*"`
	ShutdownTimeout           time.Duration `env:"SHUTDOWN_TIMEOUT,default=5s"`
}
