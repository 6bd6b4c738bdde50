package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderTransactionType - покупка или продажа со стороны брокера.
type OrderTransactionType string

const (
	TransactionBuy  OrderTransactionType = "BUY"
	TransactionSell OrderTransactionType = "SELL"
)

// OrderStatus - статус заявки, как его возвращает брокер.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusPartial   OrderStatus = "PARTIALLY_FILLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// OrderUpdate - результат размещения или закрытия рыночной заявки через
// BrokerGateway. AvgPrice заполняется только при статусе FILLED/PARTIAL.
type OrderUpdate struct {
	OrderNo      string
	SecurityID   string
	Segment      Segment
	Transaction  OrderTransactionType
	Quantity     int
	FilledQty    int
	AvgPrice     decimal.Decimal
	Status       OrderStatus
	ErrorMessage string
	PlacedAt     time.Time
	UpdatedAt    time.Time
}

// Filled сообщает, полностью ли исполнена заявка.
func (o OrderUpdate) Filled() bool {
	return o.Status == OrderStatusFilled
}

// Failed сообщает, завершилась ли заявка отказом или отменой.
func (o OrderUpdate) Failed() bool {
	return o.Status == OrderStatusRejected || o.Status == OrderStatusCancelled
}
