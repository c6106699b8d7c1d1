package wal

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// TestNew_CreatesDirectory проверяет, что New создаёт директорию журнала.
func TestNew_CreatesDirectory(t *testing.T) {
	walDir := filepath.Join(t.TempDir(), ".wal")

	w, err := New(walDir, testLogger())
	if err != nil {
		t.Fatalf("ожидалось успешное создание WAL, получена ошибка: %v", err)
	}
	if w.Dir() != walDir {
		t.Errorf("ожидался путь %s, получен %s", walDir, w.Dir())
	}

	info, err := os.Stat(walDir)
	if err != nil {
		t.Fatalf("директория WAL не создана: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("WAL path не является директорией")
	}
}

// TestStartTransaction проверяет создание транзакции с целевыми путями.
func TestStartTransaction(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	targets := []string{"/data/resumes/a.pdf", "/data/applications/a.json"}
	entry, err := w.StartTransaction(OpApplicationCreate, "app-1", targets)
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}

	if entry.TransactionID == "" {
		t.Error("TransactionID не должен быть пустым")
	}
	if entry.Status != StatusPending {
		t.Errorf("ожидался статус %s, получен %s", StatusPending, entry.Status)
	}
	if entry.ApplicationID != "app-1" {
		t.Errorf("ожидался ApplicationID 'app-1', получен %q", entry.ApplicationID)
	}
	if len(entry.Targets) != 2 || entry.Targets[0] != targets[0] {
		t.Errorf("Targets: ожидалось %v, получено %v", targets, entry.Targets)
	}
	if entry.CompletedAt != nil {
		t.Error("CompletedAt должен быть nil для pending")
	}

	// Запись на диске совпадает с возвращённой
	data, err := os.ReadFile(filepath.Join(w.Dir(), walFileName(entry.TransactionID)))
	if err != nil {
		t.Fatalf("WAL-файл не создан: %v", err)
	}
	var onDisk Entry
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("WAL-файл не является JSON: %v", err)
	}
	if onDisk.ApplicationID != "app-1" || len(onDisk.Targets) != 2 {
		t.Errorf("неожиданная запись на диске: %+v", onDisk)
	}
}

func TestCommit(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	entry, _ := w.StartTransaction(OpApplicationCreate, "app-1", nil)
	if err := w.Commit(entry.TransactionID); err != nil {
		t.Fatalf("ошибка Commit: %v", err)
	}

	got, err := w.GetTransaction(entry.TransactionID)
	if err != nil {
		t.Fatalf("ошибка GetTransaction: %v", err)
	}
	if got.Status != StatusCommitted {
		t.Errorf("ожидался статус %s, получен %s", StatusCommitted, got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt должен быть установлен")
	}

	// Повторное завершение запрещено
	if err := w.Rollback(entry.TransactionID); err == nil {
		t.Error("ожидалась ошибка при откате committed транзакции")
	}
}

func TestRecoverPending(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	committed, _ := w.StartTransaction(OpApplicationCreate, "done", nil)
	_ = w.Commit(committed.TransactionID)
	rolled, _ := w.StartTransaction(OpApplicationCreate, "failed", nil)
	_ = w.Rollback(rolled.TransactionID)
	pending, _ := w.StartTransaction(OpApplicationCreate, "crashed", []string{"/x"})

	// Мусорный файл не должен ломать восстановление
	_ = os.WriteFile(filepath.Join(w.Dir(), "garbage.wal.json"), []byte("not json"), 0o600)

	got, err := w.RecoverPending()
	if err != nil {
		t.Fatalf("ошибка RecoverPending: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ожидалась 1 pending транзакция, получено %d", len(got))
	}
	if got[0].TransactionID != pending.TransactionID || got[0].ApplicationID != "crashed" {
		t.Errorf("неожиданная pending транзакция: %+v", got[0])
	}
}

func TestCleanCompleted(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	a, _ := w.StartTransaction(OpApplicationCreate, "a", nil)
	_ = w.Commit(a.TransactionID)
	b, _ := w.StartTransaction(OpApplicationCreate, "b", nil)
	_ = w.Rollback(b.TransactionID)
	c, _ := w.StartTransaction(OpApplicationCreate, "c", nil)

	// Свежие записи не удаляются при olderThan > 0
	cleaned, err := w.CleanCompleted(time.Hour)
	if err != nil {
		t.Fatalf("ошибка CleanCompleted: %v", err)
	}
	if cleaned != 0 {
		t.Errorf("ожидалось 0 удалённых записей, получено %d", cleaned)
	}

	cleaned, err = w.CleanCompleted(0)
	if err != nil {
		t.Fatalf("ошибка CleanCompleted: %v", err)
	}
	if cleaned != 2 {
		t.Errorf("ожидалось 2 удалённые записи, получено %d", cleaned)
	}

	if _, err := w.GetTransaction(c.TransactionID); err != nil {
		t.Errorf("pending запись не должна удаляться: %v", err)
	}
}

// TestConcurrentTransactions проверяет параллельную работу с журналом.
func TestConcurrentTransactions(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := w.StartTransaction(OpApplicationCreate, "app", nil)
			if err != nil {
				t.Errorf("ошибка StartTransaction: %v", err)
				return
			}
			if err := w.Commit(entry.TransactionID); err != nil {
				t.Errorf("ошибка Commit: %v", err)
			}
		}()
	}
	wg.Wait()

	pending, err := w.RecoverPending()
	if err != nil {
		t.Fatalf("ошибка RecoverPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("ожидалось 0 pending, получено %d", len(pending))
	}
}
