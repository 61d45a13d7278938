package main

import (
	"log"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"unievents-checkin/pkg/config"
	"unievents-checkin/pkg/logger"
	"unievents-checkin/pkg/task"
	paymenttask "unievents-checkin/services/payment/task"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		task.Server,
		fx.Invoke(registerHandlers),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func registerHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(paymenttask.TypeVerificationDecided, paymenttask.HandleVerificationDecided())
}
