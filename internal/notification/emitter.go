// Package notification реализует best-effort доставку уведомлений.
package notification

import (
	"context"

	"go.uber.org/zap"
)

// Store описывает место хранения уведомлений.
type Store interface {
	CreateNotification(ctx context.Context, recipient, message string) error
}

// Emitter сохраняет уведомления в хранилище. Сбой доставки логируется и не
// возвращается вызывающему: породившую уведомление операцию он не откатывает.
type Emitter struct {
	store  Store
	logger *zap.Logger
}

// NewEmitter создаёт новый эмиттер уведомлений.
func NewEmitter(store Store, logger *zap.Logger) *Emitter {
	return &Emitter{
		store:  store,
		logger: logger,
	}
}

// Notify отправляет получателю уведомление в статусе unread.
func (e *Emitter) Notify(ctx context.Context, recipient, message string) {
	if err := e.store.CreateNotification(ctx, recipient, message); err != nil {
		e.logger.Warn("notification delivery failed",
			zap.String("recipient", recipient),
			zap.Error(err),
		)
	}
}
