// Пакет wal — файловый журнал приёма заявок.
// Перед первой публикацией файлов заявки в журнал записываются все
// целевые пути; после появления записи заявки транзакция коммитится.
// Незавершённая транзакция после рестарта означает, что на диске могли
// остаться файлы без заявки — их удаляет откат.
// Каждая транзакция — отдельный файл {tx_id}.wal.json.
package wal

import (
	"time"
)

// OperationType — тип операции, записываемой в журнал.
type OperationType string

const (
	// OpApplicationCreate — приём новой заявки (файлы + запись)
	OpApplicationCreate OperationType = "application_create"
)

// TransactionStatus — статус транзакции.
type TransactionStatus string

const (
	// StatusPending — транзакция начата, файлы публикуются
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — запись заявки видна, файлы на месте
	StatusCommitted TransactionStatus = "committed"
	// StatusRolledBack — целевые файлы удалены
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись журнала. Хранится как JSON-файл {tx_id}.wal.json.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции (UUID v4)
	TransactionID string `json:"transaction_id"`

	// Operation — тип операции
	Operation OperationType `json:"operation"`

	// Status — текущий статус транзакции
	Status TransactionStatus `json:"status"`

	// ApplicationID — id заявки, которую создаёт транзакция
	ApplicationID string `json:"application_id"`

	// Targets — абсолютные пути всех файлов, которые транзакция может создать,
	// в порядке публикации (резюме, видео, запись заявки)
	Targets []string `json:"targets"`

	// StartedAt — время начала транзакции (UTC)
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения транзакции (UTC).
	// nil для pending транзакций.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// walFileName возвращает имя файла журнала для данной транзакции.
func walFileName(txID string) string {
	return txID + walSuffix
}

// walSuffix — суффикс файлов журнала.
const walSuffix = ".wal.json"
