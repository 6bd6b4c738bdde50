package utils

import "time"

// Биржевые (Asia/Kolkata) хелперы часового пояса.
//
// TimeRegime и DailyLimits оперируют календарным днём и окнами HH:MM в
// зоне биржи, а не в UTC - весь пакет держит эту привязку к IST в одном
// месте.

var istLocation = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// на системах без tzdata считаем IST фиксированным смещением +5:30
		return time.FixedZone("IST", 5*60*60+30*60)
	}
	return loc
}()

// ExchangeLocation возвращает часовой пояс биржи (Asia/Kolkata / IST).
func ExchangeLocation() *time.Location {
	return istLocation
}

// NowInExchange возвращает текущее время в зоне биржи.
func NowInExchange() time.Time {
	return time.Now().In(istLocation)
}

// ExchangeDateString возвращает календарную дату (YYYY-MM-DD) времени t в
// зоне биржи - ключ для DailyCounters.
func ExchangeDateString(t time.Time) string {
	return t.In(istLocation).Format("2006-01-02")
}

// ParseHHMMInExchange парсит "HH:MM" как время сегодняшнего (в зоне
// биржи) дня относительно now.
func ParseHHMMInExchange(hhmm string, now time.Time) (time.Time, error) {
	now = now.In(istLocation)
	t, err := time.ParseInLocation("15:04", hhmm, istLocation)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, istLocation), nil
}

// WithinHHMMWindow сообщает, попадает ли now (в зоне биржи) в окно
// [startHHMM, endHHMM), корректно обрабатывая окна, пересекающие полночь
// (например "23:00" -> "02:00").
func WithinHHMMWindow(now time.Time, startHHMM, endHHMM string) bool {
	now = now.In(istLocation)
	start, err := ParseHHMMInExchange(startHHMM, now)
	if err != nil {
		return false
	}
	end, err := ParseHHMMInExchange(endHHMM, now)
	if err != nil {
		return false
	}

	if !end.After(start) {
		// окно пересекает полночь: попадание, если now после start ИЛИ до end
		return !now.Before(start) || now.Before(end)
	}
	return !now.Before(start) && now.Before(end)
}
