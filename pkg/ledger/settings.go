package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

type settingDefault struct {
	value       int64
	description string
}

// Every reader of a cost goes through DefaultCost when the setting is unset.
var settingDefaults = map[SettingName]settingDefault{
	SettingItemFetchCost: {value: 1, description: "Credits deducted per item fetched"},
	SettingResearch2Cost: {value: 2, description: "Credits deducted when item reaches research2 stage"},
}

// Affordability is the outcome of a cost pre-check.
type Affordability struct {
	Cost       int64
	Available  int64
	Affordable bool
	Bypassed   bool
}

// DefaultCost returns the documented fallback for a named cost.
func DefaultCost(name SettingName) int64 {
	if fallback, ok := settingDefaults[name]; ok {
		return fallback.value
	}
	return defaultUnknownSettingCost
}

// Cost loads a named cost, falling back to DefaultCost when unset.
func (service *Service) Cost(ctx context.Context, name SettingName) (int64, error) {
	return costFrom(ctx, service.store, name)
}

func costFrom(ctx context.Context, store Store, name SettingName) (int64, error) {
	setting, found, err := store.GetSetting(ctx, name)
	if err != nil {
		return 0, err
	}
	if !found {
		return DefaultCost(name), nil
	}
	return setting.Value, nil
}

// CheckAffordable compares the user's balance with a named cost. Trial accounts are never gated.
func (service *Service) CheckAffordable(ctx context.Context, userID UserID, name SettingName) (Affordability, error) {
	cost, err := service.Cost(ctx, name)
	if err != nil {
		return Affordability{}, err
	}
	balance, err := service.Balance(ctx, userID)
	if err != nil {
		return Affordability{}, err
	}
	affordability := Affordability{
		Cost:       cost,
		Available:  balance.CurrentCredits,
		Affordable: balance.IsTrial || balance.CurrentCredits >= cost,
		Bypassed:   balance.IsTrial,
	}
	if !affordability.Affordable {
		service.logOperation(ctx, OperationLog{
			Operation:   operationAffordable,
			UserID:      userID,
			Amount:      cost,
			Description: name.String(),
			Status:      operationStatusRejected,
		})
	}
	return affordability, nil
}

// Settings returns every stored setting plus any known default that has not been stored yet.
func (service *Service) Settings(ctx context.Context) ([]Setting, error) {
	stored, err := service.store.ListSettings(ctx)
	if err != nil {
		return nil, err
	}
	present := make(map[SettingName]struct{}, len(stored))
	for _, setting := range stored {
		present[setting.Name] = struct{}{}
	}
	settings := append([]Setting(nil), stored...)
	for name, fallback := range settingDefaults {
		if _, ok := present[name]; ok {
			continue
		}
		settings = append(settings, Setting{Name: name, Value: fallback.value, Description: fallback.description})
	}
	slices.SortFunc(settings, func(left Setting, right Setting) int {
		return strings.Compare(left.Name.String(), right.Name.String())
	})
	return settings, nil
}

// UpdateSetting stores a new value for a named setting. Costs may be zero but never negative.
func (service *Service) UpdateSetting(ctx context.Context, name SettingName, value int64, updatedBy string) (Setting, error) {
	if value < 0 {
		return Setting{}, fmt.Errorf("%w: %s must not be negative", ErrInvalidSettingValue, name)
	}
	description := ""
	existing, found, err := service.store.GetSetting(ctx, name)
	if err != nil {
		return Setting{}, err
	}
	if found {
		description = existing.Description
	} else if fallback, ok := settingDefaults[name]; ok {
		description = fallback.description
	} else {
		return Setting{}, WrapError(operationSetting, errorSubjectRequest, "name", fmt.Errorf("%w: %s", ErrUnknownSetting, name))
	}
	setting := Setting{
		Name:           name,
		Value:          value,
		Description:    description,
		UpdatedBy:      strings.TrimSpace(updatedBy),
		UpdatedUnixUTC: service.nowFn(),
	}
	operationError := service.store.UpsertSetting(ctx, setting)
	service.logOperation(ctx, OperationLog{
		Operation:   operationSetting,
		Amount:      value,
		Description: name.String(),
		Error:       operationError,
	})
	if operationError != nil {
		return Setting{}, operationError
	}
	return setting, nil
}

// SeedDefaultSettings stores every known default that is not stored yet.
func (service *Service) SeedDefaultSettings(ctx context.Context) error {
	for name, fallback := range settingDefaults {
		_, found, err := service.store.GetSetting(ctx, name)
		if err != nil {
			return err
		}
		if found {
			continue
		}
		if err := service.store.UpsertSetting(ctx, Setting{
			Name:           name,
			Value:          fallback.value,
			Description:    fallback.description,
			UpdatedBy:      "seed",
			UpdatedUnixUTC: service.nowFn(),
		}); err != nil {
			return err
		}
	}
	return nil
}
