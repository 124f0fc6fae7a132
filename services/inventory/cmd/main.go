// Inventory Service — последний участник хореографической саги.
// Читает inventory-start и резервирует товар; по inventory-fail возвращает его на склад.
// Успех уходит в notify-ending, откат — в payment-fail.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"example.com/saga-choreography/pkg/app"
	"example.com/saga-choreography/pkg/saga"
	"example.com/saga-choreography/services/inventory/internal/repository"
	"example.com/saga-choreography/services/inventory/internal/service"
)

func main() {
	a, err := app.New("inventory-service", &repository.InventoryModel{}, &repository.OrderInventoryModel{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка запуска Inventory Service: %v\n", err)
		os.Exit(1)
	}

	inventoryRepo := repository.NewInventoryRepository(a.DB)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := inventoryRepo.Seed(ctx, service.DefaultStock); err != nil {
		a.Log.Warn().Err(err).Msg("Не удалось добавить начальные остатки")
	}
	cancel()

	inventoryService := service.NewInventoryService(inventoryRepo)

	if err := a.RunParticipant(saga.SourceInventory, inventoryService, inventoryRepo, service.Messages); err != nil {
		a.Log.Error().Err(err).Msg("Inventory Service завершился с ошибкой")
		a.Close()
		os.Exit(1)
	}
}
