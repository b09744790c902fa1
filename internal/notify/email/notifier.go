// Package email отправляет клиенту письмо-подтверждение при создании заказа
// и периодическую рассылку о новых товарах.
package email

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/notify"
)

// Notifier — подписчик диспетчера заказов. Реагирует только на CREATED.
type Notifier struct {
	mailer Mailer
	logger *log.Entry
}

// NewNotifier создаёт подписчика поверх mailer.
func NewNotifier(mailer Mailer, logger *log.Entry) *Notifier {
	if logger == nil {
		logger = log.WithField("component", "email-notifier")
	}
	return &Notifier{mailer: mailer, logger: logger}
}

// Handle рендерит и отправляет подтверждение.
// Ошибка возвращается диспетчеру, который логирует её как ошибку доставки.
func (n *Notifier) Handle(ctx context.Context, env domain.Envelope[domain.Order]) error {
	if env.Type() != domain.EventCreated {
		return nil
	}
	order := env.Payload()
	if order.Customer.Email == "" {
		n.logger.WithField("order_id", order.ID).Debug("order has no customer email, confirmation skipped")
		return nil
	}

	subject, body, err := RenderConfirmation(order)
	if err != nil {
		return err
	}
	if err := n.mailer.Send(ctx, Message{To: order.Customer.Email, Subject: subject, HTML: body}); err != nil {
		return fmt.Errorf("send confirmation for order %s: %w", order.ID, err)
	}

	n.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"envelope_id": env.ID(),
	}).Info("order confirmation sent")
	return nil
}

var _ notify.Handler[domain.Order] = (*Notifier)(nil)
