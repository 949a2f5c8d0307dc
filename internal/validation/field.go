package validation

import (
	"fmt"
	"regexp"
)

// FieldPattern определяет допустимый формат имени поля в хранилище.
// Латинские буквы, цифры, и разделители _ . : -
var FieldPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

const (
	// MaxFieldLen максимальная длина имени поля
	MaxFieldLen = 128
)

// ValidateField проверяет, что имя поля хранилища соответствует требованиям.
// Пустое имя здесь считается ошибкой: адаптеры хранилища сами трактуют
// пустое имя как no-op до вызова валидации.
func ValidateField(field string) error {
	if field == "" {
		return fmt.Errorf("field name cannot be empty")
	}

	if len(field) > MaxFieldLen {
		return fmt.Errorf("field name must not exceed %d characters", MaxFieldLen)
	}

	if !FieldPattern.MatchString(field) {
		return fmt.Errorf("field name can only contain letters, numbers, and _ . : - separators")
	}

	return nil
}
