// Payment Service — участник хореографической саги.
// Читает payment-start, считает сумму заказа и проводит платёж;
// по payment-fail возвращает платёж. Результат уходит дальше по статусу события.
package main

import (
	"fmt"
	"os"

	"example.com/saga-choreography/pkg/app"
	"example.com/saga-choreography/pkg/saga"
	"example.com/saga-choreography/services/payment/internal/repository"
	"example.com/saga-choreography/services/payment/internal/service"
)

func main() {
	a, err := app.New("payment-service", &repository.PaymentModel{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка запуска Payment Service: %v\n", err)
		os.Exit(1)
	}

	paymentRepo := repository.NewPaymentRepository(a.DB)
	paymentService := service.NewPaymentService(paymentRepo)

	if err := a.RunParticipant(saga.SourcePayment, paymentService, paymentRepo, service.Messages); err != nil {
		a.Log.Error().Err(err).Msg("Payment Service завершился с ошибкой")
		a.Close()
		os.Exit(1)
	}
}
