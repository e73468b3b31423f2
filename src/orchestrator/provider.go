package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"signalexecutor/src/connectors"
	"signalexecutor/src/model"
	"signalexecutor/src/security"
)

// CredentialGatewayProvider builds one gateway client per account from its
// encrypted credentials and caches it. The cache entry is keyed by account
// id; credential rotation requires a restart, matching how the settings API
// deploys key changes today.
type CredentialGatewayProvider struct {
	mu      sync.Mutex
	clients map[uint]Gateway
}

func NewCredentialGatewayProvider() *CredentialGatewayProvider {
	return &CredentialGatewayProvider{clients: make(map[uint]Gateway)}
}

func (p *CredentialGatewayProvider) GatewayFor(cfg *model.AccountConfig) (Gateway, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gw, ok := p.clients[cfg.AccountID]; ok {
		return gw, nil
	}

	if cfg.APIKeyEnc == "" || cfg.APISecretEnc == "" {
		return nil, fmt.Errorf("no valid key/secret set for account %d", cfg.AccountID)
	}

	apiKey, err := security.DecryptString(cfg.APIKeyEnc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt API key for account %d: %w", cfg.AccountID, err)
	}
	apiSecret, err := security.DecryptString(cfg.APISecretEnc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt API secret for account %d: %w", cfg.AccountID, err)
	}

	client := connectors.NewClient(apiKey, apiSecret)

	// Best effort: a failed sync leaves the skew guard disarmed rather
	// than blocking the account.
	syncCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.SyncServerTime(syncCtx); err != nil {
		logger.WithError(err).WithField("accountID", cfg.AccountID).
			Warn("Failed to sync exchange server time")
	}

	p.clients[cfg.AccountID] = client
	return client, nil
}
