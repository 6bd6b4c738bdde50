package utils

// math.go - математические утилиты
//
// Назначение:
// Вспомогательные вычисления, общие для риск-движка и ордер-слоя.
//
// Функции:
// - RoundToLotSize: округление количества вниз до кратного lot size
// - CalculatePnlPct: процентный PnL от entry/ltp
// - CalculateWeightedAverage: средневзвешенная цена двух заливов (пирамидинг)
// - CalculateDrawdownPct: откат в п.п. от пикового значения

// RoundToLotSize округляет qty вниз до ближайшего кратного lotSize.
// lotSize <= 0 возвращает qty без изменений - защита от деления на ноль.
func RoundToLotSize(qty, lotSize int) int {
	if lotSize <= 0 {
		return qty
	}
	return (qty / lotSize) * lotSize
}

// CalculatePnlPct возвращает ((ltp/entry)-1)*100, вычисленное как
// (ltp-entry)*100/entry, чтобы целые проценты (100 -> 96 даёт -4) выходили
// точными. entry <= 0 возвращает 0 - вызывающий код обязан сам решать,
// является ли это ошибкой валидации.
func CalculatePnlPct(entry, ltp float64) float64 {
	if entry <= 0 {
		return 0
	}
	return (ltp - entry) * 100 / entry
}

// CalculateWeightedAverage возвращает средневзвешенную цену двух заливов
// по количеству - используется при пирамидинге второй ноги на тот же
// инструмент.
func CalculateWeightedAverage(price1 float64, qty1 int, price2 float64, qty2 int) float64 {
	totalQty := qty1 + qty2
	if totalQty <= 0 {
		return 0
	}
	return (price1*float64(qty1) + price2*float64(qty2)) / float64(totalQty)
}

// CalculateDrawdownPct возвращает откат в процентных пунктах от пикового
// значения peakPct к текущему currentPct. Отрицательный результат (цена
// выше пика) обрезается до 0.
func CalculateDrawdownPct(peakPct, currentPct float64) float64 {
	d := peakPct - currentPct
	if d < 0 {
		return 0
	}
	return d
}
