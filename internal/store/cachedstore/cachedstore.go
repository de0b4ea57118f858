// Package cachedstore keeps recently read credit settings in memory in front of a ledger.Store.
package cachedstore

import (
	"context"
	"time"

	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/ledger"
	"github.com/patrickmn/go-cache"
)

const cleanupIntervalMultiplier = 2

type cachedSetting struct {
	setting ledger.Setting
	found   bool
}

// Store decorates a ledger.Store. Setting reads outside a transaction are served from memory for ttl;
// a transactional read that disagrees with the cached value evicts it. Every other method passes straight through.
type Store struct {
	ledger.Store
	settings      *cache.Cache
	transactional bool
}

// New wraps inner with a settings cache.
func New(inner ledger.Store, ttl time.Duration) *Store {
	return &Store{
		Store:    inner,
		settings: cache.New(ttl, cleanupIntervalMultiplier*ttl),
	}
}

// WithTx hands fn a transactional view that reads settings from the database and still invalidates the cache.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.Store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		return fn(ctx, &Store{Store: txStore, settings: store.settings, transactional: true})
	})
}

func (store *Store) GetSetting(ctx context.Context, name ledger.SettingName) (ledger.Setting, bool, error) {
	if !store.transactional {
		if cached, found := store.settings.Get(name.String()); found {
			entry := cached.(cachedSetting)
			return entry.setting, entry.found, nil
		}
	}
	setting, found, err := store.Store.GetSetting(ctx, name)
	if err != nil {
		return ledger.Setting{}, false, err
	}
	fresh := cachedSetting{setting: setting, found: found}
	if !store.transactional {
		store.settings.Set(name.String(), fresh, cache.DefaultExpiration)
		return setting, found, nil
	}
	if cached, ok := store.settings.Get(name.String()); ok && !sameSetting(cached.(cachedSetting), fresh) {
		store.settings.Delete(name.String())
	}
	return setting, found, nil
}

func (store *Store) UpsertSetting(ctx context.Context, setting ledger.Setting) error {
	err := store.Store.UpsertSetting(ctx, setting)
	store.settings.Delete(setting.Name.String())
	return err
}

func sameSetting(left cachedSetting, right cachedSetting) bool {
	return left.found == right.found && left.setting.Value == right.setting.Value
}

// Flush drops every cached setting.
func (store *Store) Flush() {
	store.settings.Flush()
}
