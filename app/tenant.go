package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"moving-crm/internal/entities"
)

type tenantLookup interface {
	Tenant(ctx context.Context) (*entities.Client, error)
}

// ensureTenant проверяет, что клиент-арендатор заведён до запуска планировщика.
func ensureTenant(ctx context.Context, tenants tenantLookup, logger *zap.Logger) error {
	client, err := tenants.Tenant(ctx)
	if err != nil {
		return fmt.Errorf("арендатор: %w", err)
	}
	logger.Info("Арендатор найден", zap.Uint64("client_id", client.ID), zap.String("name", client.Name))
	return nil
}
