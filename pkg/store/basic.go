package store

import "github.com/eventual-inc/daft-launcher/pkg/config"

type BasicStore struct {
	config config.ConstantsConfig
}

func NewBasicStore(config config.ConstantsConfig) *BasicStore {
	return &BasicStore{config: config}
}

func (b BasicStore) GetDefaultRegion() string {
	return b.config.GetDefaultRegion()
}

func (b BasicStore) GetDashboardPort() string {
	return b.config.GetDashboardPort()
}
