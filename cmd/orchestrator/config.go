package orchestrator

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServerPort string `envconfig:"SERVER_PORT" default:"8080"`

	// FeedMode selects the signal source: "db" polls the read-only feed
	// database, "stream" consumes the websocket feed.
	FeedMode  string `envconfig:"FEED_MODE" default:"db"`
	FeedWSURL string `envconfig:"FEED_WS_URL" default:"wss://feed.example.com/signals"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
