// Пакет layout — структура директорий хранилища заявок.
//
//	{root}/resumes       — резюме
//	{root}/videos        — видео
//	{root}/applications  — записи заявок {id}.json
//	{root}/.staging      — временные файлы запросов (та же ФС, что и цели)
//	{root}/.wal          — журнал транзакций приёма
package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Имена поддиректорий относительно корня.
const (
	ResumesDir      = "resumes"
	VideosDir       = "videos"
	ApplicationsDir = "applications"
	StagingDir      = ".staging"
	WALDir          = ".wal"
)

// ErrOutsideRoot — путь выходит за пределы корня хранилища.
var ErrOutsideRoot = errors.New("путь за пределами корня хранилища")

// Layout — проверенная структура директорий. Неизменяема после Ensure.
type Layout struct {
	root string
}

// Ensure создаёт недостающие директории и проверяет их доступность на запись.
// Идемпотентна: повторный вызов на готовой структуре ничего не меняет.
func Ensure(root string) (*Layout, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("корень хранилища не задан")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("некорректный корень хранилища %s: %w", root, err)
	}

	l := &Layout{root: abs}
	for _, dir := range l.dirs() {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
		}
	}

	if err := l.Check(); err != nil {
		return nil, err
	}

	return l, nil
}

// Check проверяет, что все директории существуют и доступны на запись.
// Используется при старте и в readiness probe.
func (l *Layout) Check() error {
	for _, dir := range l.dirs() {
		testFile := filepath.Join(dir, ".write_test")
		if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
			return fmt.Errorf("директория %s недоступна для записи: %w", dir, err)
		}
		_ = os.Remove(testFile)
	}
	return nil
}

func (l *Layout) dirs() []string {
	return []string{l.Resumes(), l.Videos(), l.Applications(), l.Staging(), l.WAL()}
}

// Root возвращает абсолютный путь корня хранилища.
func (l *Layout) Root() string { return l.root }

// Resumes возвращает абсолютный путь директории резюме.
func (l *Layout) Resumes() string { return filepath.Join(l.root, ResumesDir) }

// Videos возвращает абсолютный путь директории видео.
func (l *Layout) Videos() string { return filepath.Join(l.root, VideosDir) }

// Applications возвращает абсолютный путь директории записей заявок.
func (l *Layout) Applications() string { return filepath.Join(l.root, ApplicationsDir) }

// Staging возвращает абсолютный путь staging-директории.
func (l *Layout) Staging() string { return filepath.Join(l.root, StagingDir) }

// WAL возвращает абсолютный путь директории журнала.
func (l *Layout) WAL() string { return filepath.Join(l.root, WALDir) }

// Rel переводит абсолютный путь внутри корня в относительный
// с разделителем "/" — формат путей в записи заявки.
func (l *Layout) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(l.root, abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, abs)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, abs)
	}
	return filepath.ToSlash(rel), nil
}

// Abs переводит относительный путь из записи заявки в абсолютный.
// Абсолютные пути и выход за корень через ".." отклоняются.
func (l *Layout) Abs(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}
	full := filepath.Join(l.root, filepath.FromSlash(rel))
	if _, err := l.Rel(full); err != nil {
		return "", err
	}
	return full, nil
}
