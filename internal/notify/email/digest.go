package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/notify"
)

var digestTemplate = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>New in the shop</title></head>
<body>
<h1>Hello, {{.Name}}!</h1>
<p>New products since our last letter:</p>
<ul>
{{- range .Products}}
<li><strong>{{.Name}}</strong>{{if .Category}} ({{.Category}}){{end}}: {{.Price}}</li>
{{- end}}
</ul>
</body>
</html>
`))

type digestProduct struct {
	Name     string
	Category string
	Price    string
}

type digestView struct {
	Name     string
	Products []digestProduct
}

// Recipients отдаёт адресатов рассылки.
type Recipients interface {
	List(ctx context.Context, limit int) ([]domain.User, error)
}

// Digest — подписчик диспетчера товаров. Копит созданные товары и по Flush
// рассылает их списком всем пользователям.
type Digest struct {
	mailer Mailer
	users  Recipients
	logger *log.Entry

	mu      sync.Mutex
	pending []domain.Product
}

// NewDigest создаёт рассылку поверх mailer.
func NewDigest(mailer Mailer, users Recipients, logger *log.Entry) *Digest {
	if logger == nil {
		logger = log.WithField("component", "email-digest")
	}
	return &Digest{mailer: mailer, users: users, logger: logger}
}

// Handle запоминает новый товар. Изменённый товар обновляется в очереди, удалённый убирается.
func (d *Digest) Handle(_ context.Context, env domain.Envelope[domain.Product]) error {
	product := env.Payload()

	d.mu.Lock()
	defer d.mu.Unlock()

	idx := -1
	for i, p := range d.pending {
		if p.ID == product.ID {
			idx = i
			break
		}
	}
	switch env.Type() {
	case domain.EventCreated:
		if idx < 0 {
			d.pending = append(d.pending, product)
		}
	case domain.EventUpdated:
		if idx >= 0 {
			d.pending[idx] = product
		}
	case domain.EventDeleted:
		if idx >= 0 {
			d.pending = append(d.pending[:idx], d.pending[idx+1:]...)
		}
	}
	return nil
}

// Pending возвращает число товаров, ожидающих рассылки.
func (d *Digest) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush отправляет накопленные товары и возвращает число отправленных писем.
// Если список адресатов получить не удалось, товары остаются в очереди.
// Ошибки отправки отдельным адресатам собираются в одну.
func (d *Digest) Flush(ctx context.Context) (int, error) {
	d.mu.Lock()
	products := d.pending
	d.pending = nil
	d.mu.Unlock()

	if len(products) == 0 {
		return 0, nil
	}

	users, err := d.users.List(ctx, 0)
	if err != nil {
		d.requeue(products)
		return 0, fmt.Errorf("list digest recipients: %w", err)
	}

	view := digestView{Products: make([]digestProduct, 0, len(products))}
	for _, p := range products {
		view.Products = append(view.Products, digestProduct{Name: p.Name, Category: p.Category, Price: p.Price.StringFixed(2)})
	}
	subject := fmt.Sprintf("%d new products in the shop", len(products))

	var (
		sent int
		errs []error
	)
	for _, u := range users {
		if u.Email == "" {
			continue
		}
		view.Name = u.FullName
		if view.Name == "" {
			view.Name = u.Username
		}
		var buf bytes.Buffer
		if err := digestTemplate.Execute(&buf, view); err != nil {
			return sent, fmt.Errorf("render digest: %w", err)
		}
		if err := d.mailer.Send(ctx, Message{To: u.Email, Subject: subject, HTML: buf.String()}); err != nil {
			errs = append(errs, fmt.Errorf("send digest to %s: %w", u.ID, err))
			continue
		}
		sent++
	}

	d.logger.WithFields(log.Fields{
		"products":   len(products),
		"recipients": sent,
	}).Info("product digest sent")
	return sent, errors.Join(errs...)
}

func (d *Digest) requeue(products []domain.Product) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(products, d.pending...)
}

// Run вызывает Flush каждые interval до отмены ctx.
func (d *Digest) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Flush(ctx); err != nil && ctx.Err() == nil {
				d.logger.WithError(err).Warn("product digest failed")
			}
		}
	}
}

var _ notify.Handler[domain.Product] = (*Digest)(nil)
