package email

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type fakeMailer struct {
	sent []Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func sampleOrder() domain.Order {
	return domain.Order{
		ID:         "order-1",
		CustomerID: "customer-1",
		Customer: domain.Customer{
			FullName: "Ana <Admin>",
			Email:    "ana@test.com",
			Phone:    "600111222",
			Address: domain.Address{
				Street: "Gran Via", Number: "1", City: "Madrid",
				Province: "Madrid", Country: "Spain", PostalCode: "28013",
			},
		},
		Lines: []domain.LineItem{
			{ProductID: "P1", ProductName: "Keyboard", UnitPrice: decimal.RequireFromString("10"), Quantity: 2},
			{ProductID: "P2", ProductName: "Mouse", UnitPrice: decimal.RequireFromString("5.5"), Quantity: 1},
		},
		CreatedAt: time.Date(2026, 2, 3, 10, 30, 0, 0, time.UTC),
	}
}

func TestRenderConfirmation(t *testing.T) {
	subject, body, err := RenderConfirmation(sampleOrder())
	require.NoError(t, err)

	require.Equal(t, "Order order-1 confirmed", subject)
	require.Contains(t, body, "order-1")
	require.Contains(t, body, "<td>Keyboard</td><td>2</td><td>10.00</td><td>20.00</td>")
	require.Contains(t, body, "<td>Mouse</td><td>1</td><td>5.50</td><td>5.50</td>")
	require.Contains(t, body, "Items: 3")
	require.Contains(t, body, "<strong>25.50</strong>")
	require.Contains(t, body, "Ana &lt;Admin&gt;")
	require.NotContains(t, body, "<Admin>")
}

func TestNotifier_SendsOnlyOnCreated(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	mailer := &fakeMailer{}
	notifier := NewNotifier(mailer, logger.WithField("component", "test"))
	order := sampleOrder()

	for _, eventType := range []domain.EventType{domain.EventCreated, domain.EventUpdated, domain.EventDeleted} {
		env := domain.NewEnvelope(domain.EntityOrder, eventType, order, time.Now())
		require.NoError(t, notifier.Handle(context.Background(), env))
	}

	require.Len(t, mailer.sent, 1)
	require.Equal(t, "ana@test.com", mailer.sent[0].To)
	require.Equal(t, "Order order-1 confirmed", mailer.sent[0].Subject)
}

func TestNotifier_SkipsMissingEmail(t *testing.T) {
	mailer := &fakeMailer{}
	notifier := NewNotifier(mailer, nil)
	order := sampleOrder()
	order.Customer.Email = ""

	err := notifier.Handle(context.Background(), domain.NewEnvelope(domain.EntityOrder, domain.EventCreated, order, time.Now()))
	require.NoError(t, err)
	require.Empty(t, mailer.sent)
}

func TestNotifier_ReturnsTransportError(t *testing.T) {
	transportErr := errors.New("connection refused")
	notifier := NewNotifier(&fakeMailer{err: transportErr}, nil)

	err := notifier.Handle(context.Background(), domain.NewEnvelope(domain.EntityOrder, domain.EventCreated, sampleOrder(), time.Now()))
	require.ErrorIs(t, err, transportErr)
}

func TestLogMailer(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	mailer := NewLogMailer(logger.WithField("component", "test"))

	require.NoError(t, mailer.Send(context.Background(), Message{To: "a@b.c", Subject: "hi", HTML: "<p>x</p>"}))
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, "a@b.c", entry.Data["to"])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, mailer.Send(ctx, Message{}), context.Canceled)
}

func TestNewSMTPMailerValidation(t *testing.T) {
	_, err := NewSMTPMailer(SMTPConfig{From: "shop@test.com"})
	require.Error(t, err)
	_, err = NewSMTPMailer(SMTPConfig{Addr: "localhost:25"})
	require.Error(t, err)
	_, err = NewSMTPMailer(SMTPConfig{Addr: "localhost:25", From: "shop@test.com"})
	require.NoError(t, err)
}

func TestSMTPMailer_DialFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	mailer, err := NewSMTPMailer(SMTPConfig{Addr: addr, From: "shop@test.com"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = mailer.Send(ctx, Message{To: "a@b.c", Subject: "s", HTML: "<p></p>"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "dial smtp")
}

func TestBuildMIME(t *testing.T) {
	raw := string(buildMIME("shop@test.com", Message{To: "a@b.c", Subject: "Hello", HTML: "<p>1</p>\n<p>2</p>"}))

	require.True(t, strings.HasPrefix(raw, "From: shop@test.com\r\nTo: a@b.c\r\nSubject: Hello\r\n"))
	require.Contains(t, raw, "Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	require.True(t, strings.HasSuffix(raw, "<p>1</p>\r\n<p>2</p>"))
}
