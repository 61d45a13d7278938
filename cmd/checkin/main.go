package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"unievents-checkin/internal/server"
	"unievents-checkin/pkg/config"
	"unievents-checkin/pkg/db"
	"unievents-checkin/pkg/health"
	"unievents-checkin/pkg/logger"
	"unievents-checkin/pkg/minio"
	"unievents-checkin/pkg/redis"
	"unievents-checkin/pkg/task"
	"unievents-checkin/services/checkin"
	"unievents-checkin/services/event"
	"unievents-checkin/services/partner"
	"unievents-checkin/services/payment"
	"unievents-checkin/services/ticket"
	"unievents-checkin/services/token"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		minio.Module,
		task.Client,
		health.Module,
		fx.Provide(
			provideSnowflakeNode,
			provideTracerProvider,
			provideMeterProvider,
		),
		fx.Invoke(autoMigrate),
		token.Module,
		event.Module,
		partner.Module,
		ticket.Module,
		checkin.Module,
		payment.Module,
		payment.UploaderModule,
		server.Module,
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

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func provideTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

func provideMeterProvider() metric.MeterProvider {
	return otel.GetMeterProvider()
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&event.Event{},
		&partner.Account{},
		&ticket.Ticket{},
		&ticket.Registration{},
		&checkin.CheckIn{},
		&payment.PaymentVerification{},
	)
}
