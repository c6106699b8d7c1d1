// Пакет record — чтение и запись файлов заявок (applications/{id}.json).
// Каждая заявка хранится в отдельном файле, который является
// единственным источником истины. Запись выполняется атомарно и
// без перезаписи: temp → fsync → link.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/guidehub/guide-intake/internal/domain/model"
)

// Suffix — суффикс файла заявки.
const Suffix = ".json"

// maxRecordFileSize — максимальный допустимый размер файла заявки (1 МБ).
const maxRecordFileSize = 1 << 20

// ErrExists — файл заявки с таким id уже существует.
var ErrExists = errors.New("запись заявки уже существует")

// FileName возвращает имя файла заявки по её id.
func FileName(id string) string {
	return id + Suffix
}

// IDFromPath возвращает id заявки из пути её файла.
// Пример: "/data/applications/0192...json" → "0192..."
func IDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), Suffix)
}

// Create атомарно записывает новую заявку в path.
// Паттерн: JSON → temp файл → fsync → link в path.
// Если path уже существует — возвращает ErrExists, существующий файл не трогается.
func Create(path string, rec *model.ApplicationRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации заявки: %w", err)
	}

	if len(data) > maxRecordFileSize {
		return fmt.Errorf("размер заявки (%d байт) превышает максимум (%d байт)", len(data), maxRecordFileSize)
	}

	f, err := os.CreateTemp(filepath.Dir(path), ".record-*.tmp")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()
	defer os.Remove(tmpPath)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, filepath.Base(path))
		}
		return createWithoutLink(tmpPath, path)
	}

	return nil
}

// createWithoutLink — вариант для ФС без hard link:
// имя резервируется через O_EXCL, затем rename поверх заглушки.
func createWithoutLink(tmpPath, path string) error {
	placeholder, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, filepath.Base(path))
		}
		return fmt.Errorf("ошибка резервирования %s: %w", filepath.Base(path), err)
	}
	placeholder.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(path)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// Read читает и десериализует заявку из файла.
// Ошибка not-exist оборачивается и распознаётся через os.IsNotExist / errors.Is.
func Read(path string) (*model.ApplicationRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения заявки %s: %w", filepath.Base(path), err)
	}

	var rec model.ApplicationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("ошибка десериализации заявки %s: %w", filepath.Base(path), err)
	}

	if rec.ID == "" {
		rec.ID = IDFromPath(path)
	}

	return &rec, nil
}

// Delete удаляет файл заявки. Возвращает nil если файл уже не существует.
func Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления заявки %s: %w", filepath.Base(path), err)
	}
	return nil
}

// List возвращает пути всех файлов заявок в директории.
// Не рекурсивный, порядок — лексикографический по имени.
func List(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+Suffix))
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования директории %s: %w", dir, err)
	}
	return matches, nil
}

// ScanDir читает все заявки в директории.
// Невалидные файлы пропускаются, их количество возвращается в skipped.
func ScanDir(dir string) (records []*model.ApplicationRecord, skipped int, err error) {
	paths, err := List(dir)
	if err != nil {
		return nil, 0, err
	}

	for _, path := range paths {
		rec, err := Read(path)
		if err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}

	return records, skipped, nil
}
