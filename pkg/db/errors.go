package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// IsDuplicateKey сообщает, что ошибка — нарушение уникального индекса.
// Помимо gorm.ErrDuplicatedKey (TranslateError) распознаёт сырые ошибки драйверов.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || // mysql 1062
		strings.Contains(msg, "duplicate key value") || // postgres 23505
		strings.Contains(msg, "UNIQUE constraint failed") // sqlite
}
