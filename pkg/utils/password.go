package utils

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword - bcrypt-хеш с DefaultCost.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("пустой пароль")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("ошибка при генерации хеша: %w", err)
	}
	return string(hashed), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
