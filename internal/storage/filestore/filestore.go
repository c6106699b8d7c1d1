// Пакет filestore — операции с физическими файлами заявок на диске.
// Обеспечивает streaming-запись во staging с подсчётом SHA-256 на лету,
// ограничением размера и атомарной публикацией в целевой каталог
// без перезаписи существующих файлов.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/guidehub/guide-intake/internal/storage/layout"
)

// maxSafeNameLen — ограничение длины имени отправителя в имени файла.
const maxSafeNameLen = 50

// maxExtLen — ограничение длины расширения (без точки).
const maxExtLen = 10

// fallbackName — имя, если полное имя отправителя пустое после очистки.
const fallbackName = "candidate"

// fallbackExt — расширение, если исходное отсутствует или небезопасно.
const fallbackExt = ".bin"

// ErrTargetExists — целевой файл уже существует, публикация отклонена.
var ErrTargetExists = errors.New("целевой файл уже существует")

// LimitError — поток превысил допустимый размер.
// Read — сколько байт было прочитано до остановки (всегда > Limit).
type LimitError struct {
	Limit int64
	Read  int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("превышен лимит размера %d байт", e.Limit)
}

// FileStore — управление физическими файлами заявок.
type FileStore struct {
	layout *layout.Layout
}

// StagedFile — файл, записанный во staging и ещё не опубликованный.
type StagedFile struct {
	// Path — абсолютный путь во staging
	Path string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 содержимого
	Checksum string
}

// New создаёт FileStore поверх проверенной структуры директорий.
func New(l *layout.Layout) *FileStore {
	return &FileStore{layout: l}
}

// Layout возвращает структуру директорий хранилища.
func (fs *FileStore) Layout() *layout.Layout {
	return fs.layout
}

// Staging — личная staging-директория одного запроса.
// Всё, что не было опубликовано, удаляется в Cleanup.
type Staging struct {
	dir string
}

// NewStaging создаёт staging-директорию для одного запроса.
func (fs *FileStore) NewStaging() (*Staging, error) {
	dir := filepath.Join(fs.layout.Staging(), uuid.New().String())
	if err := os.Mkdir(dir, 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания staging-директории: %w", err)
	}
	return &Staging{dir: dir}, nil
}

// Dir возвращает путь staging-директории.
func (s *Staging) Dir() string {
	return s.dir
}

// Cleanup удаляет staging-директорию со всем содержимым.
func (s *Staging) Cleanup() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("ошибка удаления staging-директории %s: %w", s.dir, err)
	}
	return nil
}

// Write записывает поток во staging с подсчётом SHA-256 на лету.
// Читает не более limit+1 байт: при превышении файл удаляется,
// возвращается *LimitError, остаток потока не дочитывается.
//
// Паттерн: temp файл → запись + SHA-256 → fsync.
func (s *Staging) Write(reader io.Reader, limit int64) (*StagedFile, error) {
	f, err := os.CreateTemp(s.dir, "part-*")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	path := f.Name()

	hasher := sha256.New()
	tee := io.TeeReader(io.LimitReader(reader, limit+1), hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if size > limit {
		f.Close()
		os.Remove(path)
		return nil, &LimitError{Limit: limit, Read: size}
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	return &StagedFile{
		Path:     path,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Discard дочитывает поток, не сохраняя его, но не более limit+1 байт.
// Возвращает *LimitError при превышении лимита.
func Discard(reader io.Reader, limit int64) (int64, error) {
	n, err := io.Copy(io.Discard, io.LimitReader(reader, limit+1))
	if err != nil {
		return n, fmt.Errorf("ошибка чтения данных: %w", err)
	}
	if n > limit {
		return n, &LimitError{Limit: limit, Read: n}
	}
	return n, nil
}

// Remove удаляет staged файл (например, отброшенное дублирующее видео).
func (s *Staging) Remove(f *StagedFile) {
	if f != nil {
		_ = os.Remove(f.Path)
	}
}

// Publish атомарно переносит staged файл в target, не перезаписывая
// существующий файл (create-if-absent). Staging и target лежат на одной ФС.
func (fs *FileStore) Publish(staged *StagedFile, target string) error {
	err := os.Link(staged.Path, target)
	if err == nil {
		_ = os.Remove(staged.Path)
		return nil
	}
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrTargetExists, filepath.Base(target))
	}

	// ФС без поддержки hard link: резервируем имя через O_EXCL,
	// затем rename поверх собственной заглушки.
	placeholder, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrTargetExists, filepath.Base(target))
		}
		return fmt.Errorf("ошибка резервирования %s: %w", filepath.Base(target), err)
	}
	placeholder.Close()

	if err := os.Rename(staged.Path, target); err != nil {
		os.Remove(target)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// Open открывает опубликованный файл по абсолютному пути.
// Вызывающий код обязан закрыть файл.
func (fs *FileStore) Open(fullPath string) (*os.File, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("файл не найден: %s: %w", filepath.Base(fullPath), err)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", filepath.Base(fullPath), err)
	}
	return f, nil
}

// Delete удаляет файл с диска. Возвращает nil если файл уже не существует.
func (fs *FileStore) Delete(fullPath string) error {
	err := os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", filepath.Base(fullPath), err)
	}
	return nil
}

// StorageName генерирует имя файла для хранения на диске.
// Формат: {id}_{safeName}{ext}
// Пример: 0192f1d2-7c1e-7aaa-9d4e-3b1f0c2a9e11_Jane_Doe.pdf
func StorageName(id, fullName, originalFilename string) string {
	return id + "_" + SafeName(fullName) + SafeExt(originalFilename)
}

// SafeName заменяет символы вне [A-Za-z0-9_-] на "_" и ограничивает длину.
// Пустой результат заменяется на "candidate".
func SafeName(s string) string {
	s = strings.TrimSpace(s)
	var result strings.Builder
	n := 0
	for _, r := range s {
		if n >= maxSafeNameLen {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteByte('_')
		}
		n++
	}
	if result.Len() == 0 {
		return fallbackName
	}
	return result.String()
}

// SafeExt возвращает расширение исходного имени в нижнем регистре,
// если оно состоит из 1..10 латинских букв и цифр, иначе ".bin".
func SafeExt(originalFilename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalFilename)))
	if len(ext) < 2 || len(ext)-1 > maxExtLen {
		return fallbackExt
	}
	for _, r := range ext[1:] {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return fallbackExt
		}
	}
	return ext
}
