// Package broker определяет BrokerGateway - единственную точку выхода в
// реальный или симулированный исполняющий брокер. Все
// остальные компоненты (ExitEngine, EntryGuard, TrailingEngine) зависят
// только от этого интерфейса.
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/shubhamtaywade82/riskcore/internal/models"
)

// PlaceMarketRequest - параметры рыночной заявки.
type PlaceMarketRequest struct {
	Side          models.OrderTransactionType
	Segment       models.Segment
	SecurityID    string
	Quantity      int
	ClientOrderID string
	Meta          map[string]interface{}
}

// PlaceMarketResult - результат успешной постановки заявки.
type PlaceMarketResult struct {
	OrderID string
}

// FlatPositionResult - результат закрытия позиции по рынку.
type FlatPositionResult struct {
	OrderID   string
	ExitPrice decimal.Decimal
}

// PositionSnapshot - текущее состояние позиции на стороне брокера.
type PositionSnapshot struct {
	Quantity      int
	AvgPrice      decimal.Decimal
	UnrealizedPnl decimal.Decimal
	RealizedPnl   decimal.Decimal
	LastLTP       decimal.Decimal
}

// WalletSnapshot - срез состояния счёта.
type WalletSnapshot struct {
	Cash     decimal.Decimal
	Equity   decimal.Decimal
	MTM      decimal.Decimal
	Exposure decimal.Decimal
}

// Gateway - единственная точка исполнения заявок и чтения состояния счёта,
// place_market идемпотентна по meta.client_order_id.
type Gateway interface {
	PlaceMarket(ctx context.Context, req PlaceMarketRequest) (*PlaceMarketResult, error)
	FlatPosition(ctx context.Context, segment models.Segment, securityID string) (*FlatPositionResult, error)
	Position(ctx context.Context, segment models.Segment, securityID string) (*PositionSnapshot, error)
	WalletSnapshot(ctx context.Context) (*WalletSnapshot, error)
	LTPBatch(ctx context.Context, bySegment map[models.Segment][]string) (map[models.Segment]map[string]decimal.Decimal, error)
}
