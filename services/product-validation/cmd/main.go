// Product Validation Service — первый участник хореографической саги.
// Читает product-validation-start и проверяет товары заказа по каталогу;
// по product-validation-fail откатывает проверку. Откат этого шага
// завершает сагу: событие уходит в notify-ending.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"example.com/saga-choreography/pkg/app"
	"example.com/saga-choreography/pkg/saga"
	"example.com/saga-choreography/services/product-validation/internal/repository"
	"example.com/saga-choreography/services/product-validation/internal/service"
)

func main() {
	a, err := app.New("product-validation-service", &repository.ProductModel{}, &repository.ValidationModel{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка запуска Product Validation Service: %v\n", err)
		os.Exit(1)
	}

	productRepo := repository.NewProductRepository(a.DB)
	validationRepo := repository.NewValidationRepository(a.DB)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := productRepo.Seed(ctx, service.DefaultCatalog); err != nil {
		a.Log.Warn().Err(err).Msg("Не удалось заполнить каталог товаров")
	}
	cancel()

	validationService := service.NewValidationService(productRepo, validationRepo)

	if err := a.RunParticipant(saga.SourceProductValidation, validationService, validationRepo, service.Messages); err != nil {
		a.Log.Error().Err(err).Msg("Product Validation Service завершился с ошибкой")
		a.Close()
		os.Exit(1)
	}
}
