// Package notify is the outbound alert sink for stock events. Delivery is
// fire-and-forget; business operations never fail because an alert did.
package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

const (
	CodeLowStock          = "low_stock"
	CodeInsufficientStock = "insufficient_stock"
)

type Event struct {
	Code         string
	ProductID    string
	ProductName  string
	CurrentStock int
	MinStock     int
	Detail       string
}

type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// LogNotifier writes alerts to the application log. It stands in for a real
// delivery channel in every environment that has none configured.
type LogNotifier struct {
	log *logrus.Logger
}

func NewLog(log *logrus.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) {
	n.log.WithFields(logrus.Fields{
		"code":          event.Code,
		"product_id":    event.ProductID,
		"product_name":  event.ProductName,
		"current_stock": event.CurrentStock,
		"min_stock":     event.MinStock,
		"detail":        event.Detail,
	}).Warn("stock alert")
}

type Noop struct{}

func (Noop) Notify(context.Context, Event) {}
