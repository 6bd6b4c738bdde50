package utils

import (
	"fmt"
	"regexp"
)

// validator.go - валидация входных данных
//
// Назначение:
// Проверка корректности данных на границах риск-движка (конфигурация,
// входящие тики, заявки на вход).
//
// Функции:
// - ValidateSecurityID: непустой идентификатор инструмента
// - ValidateQuantity: количество > 0
// - ValidateHHMM: формат "HH:MM"
// - ValidateClientOrderID: длина <= 25 символов (лимит брокера)
//
// Возвращает error с описанием проблемы или nil.

var hhmmPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ValidateSecurityID проверяет, что идентификатор инструмента не пуст.
func ValidateSecurityID(securityID string) error {
	if securityID == "" {
		return fmt.Errorf("security id must not be empty")
	}
	return nil
}

// ValidateQuantity проверяет, что количество строго положительно.
func ValidateQuantity(qty int) error {
	if qty <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", qty)
	}
	return nil
}

// ValidateHHMM проверяет формат времени "HH:MM" в 24-часовом формате.
func ValidateHHMM(value string) error {
	if !hhmmPattern.MatchString(value) {
		return fmt.Errorf("invalid HH:MM time: %q", value)
	}
	return nil
}

// ValidateClientOrderID проверяет, что идентификатор заявки укладывается
// в лимит брокера (25 символов).
func ValidateClientOrderID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("client order id must not be empty")
	}
	if len(id) > 25 {
		return fmt.Errorf("client order id %q exceeds 25 characters", id)
	}
	return nil
}
