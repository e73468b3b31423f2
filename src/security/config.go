package security

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ExchangeCRKey is the base64-encoded 32-byte key used to decrypt the
	// exchange credentials stored on account configs.
	ExchangeCRKey string `envconfig:"EXCHANGE_CREDENTIALS_KEY" required:"true"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
