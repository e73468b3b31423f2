package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BaseURL        string        `envconfig:"EXCHANGE_BASE_URL" default:"https://testnet.exchange.example.com"`
	RequestTimeout time.Duration `envconfig:"EXCHANGE_REQUEST_TIMEOUT" default:"10s"`
	RecvWindowMS   int64         `envconfig:"EXCHANGE_RECV_WINDOW_MS" default:"5000"`
	RetryAttempts  int           `envconfig:"EXCHANGE_RETRY_ATTEMPTS" default:"3"`
	RetryBaseDelay time.Duration `envconfig:"EXCHANGE_RETRY_BASE_DELAY" default:"500ms"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
