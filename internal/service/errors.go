// Пакет service — бизнес-логика Guide Intake.
// errors.go — типизированные ошибки сервисного слоя.
// Отображение в HTTP-статусы выполняется в handlers через errors.As.
package service

import (
	"errors"
	"fmt"
)

// ValidationError — отсутствует обязательное поле, неверный тип файла
// или некорректная форма. Message возвращается клиенту как есть.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// PayloadTooLargeError — поле или файл превысили допустимый размер.
// ActualBytes — сколько байт было прочитано до остановки.
type PayloadTooLargeError struct {
	Field       string
	LimitBytes  int64
	ActualBytes int64
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("Field %s exceeds maximum size of %d bytes", e.Field, e.LimitBytes)
}

// StorageError — ошибка файловой системы. Причина пишется в лог
// и клиенту не отдаётся.
type StorageError struct {
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ошибка хранилища: %v", e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NotFoundError — заявка или её файл не найдены.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Application %s not found", e.ID)
}

// AuthError — ошибка аутентификации (401) или авторизации (403, Forbidden=true).
type AuthError struct {
	Forbidden bool
	Message   string
}

func (e *AuthError) Error() string {
	return e.Message
}

// storageErr оборачивает ошибку в StorageError, не оборачивая повторно.
func storageErr(err error) error {
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Cause: err}
}
