package layout

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// TestEnsure_CreatesDirs проверяет создание всех поддиректорий.
func TestEnsure_CreatesDirs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "uploads")

	l, err := Ensure(root)
	if err != nil {
		t.Fatalf("ошибка Ensure: %v", err)
	}

	for _, dir := range []string{l.Resumes(), l.Videos(), l.Applications(), l.Staging(), l.WAL()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("директория %s не создана: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s не является директорией", dir)
		}
	}
}

// TestEnsure_Idempotent проверяет, что повторный вызов не ломает структуру.
func TestEnsure_Idempotent(t *testing.T) {
	root := t.TempDir()

	if _, err := Ensure(root); err != nil {
		t.Fatalf("первый вызов Ensure: %v", err)
	}

	// Файл внутри структуры должен пережить повторный вызов
	keep := filepath.Join(root, ResumesDir, "keep.pdf")
	if err := os.WriteFile(keep, []byte("%PDF"), 0o600); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	if _, err := Ensure(root); err != nil {
		t.Fatalf("второй вызов Ensure: %v", err)
	}

	if _, err := os.Stat(keep); err != nil {
		t.Errorf("файл исчез после повторного Ensure: %v", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ошибка чтения корня: %v", err)
	}
	if len(entries) != 5 {
		t.Errorf("ожидалось 5 поддиректорий, получено %d", len(entries))
	}
}

// TestEnsure_InvalidRoot проверяет отказ при корне, который является файлом.
func TestEnsure_InvalidRoot(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	if _, err := Ensure(file); err == nil {
		t.Error("ожидалась ошибка для корня-файла")
	}
	if _, err := Ensure("  "); err == nil {
		t.Error("ожидалась ошибка для пустого корня")
	}
}

func TestRelAbs(t *testing.T) {
	l, err := Ensure(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка Ensure: %v", err)
	}

	abs := filepath.Join(l.Resumes(), "a.pdf")
	rel, err := l.Rel(abs)
	if err != nil {
		t.Fatalf("ошибка Rel: %v", err)
	}
	if rel != "resumes/a.pdf" {
		t.Errorf("Rel: ожидалось 'resumes/a.pdf', получено %q", rel)
	}

	back, err := l.Abs(rel)
	if err != nil {
		t.Fatalf("ошибка Abs: %v", err)
	}
	if back != abs {
		t.Errorf("Abs: ожидалось %q, получено %q", abs, back)
	}
}

func TestAbs_RejectsEscapes(t *testing.T) {
	l, err := Ensure(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка Ensure: %v", err)
	}

	for _, rel := range []string{"", "../etc/passwd", "resumes/../../x", "/etc/passwd"} {
		if _, err := l.Abs(rel); !errors.Is(err, ErrOutsideRoot) {
			t.Errorf("Abs(%q): ожидалась ErrOutsideRoot, получено %v", rel, err)
		}
	}
}

func TestDiskUsage(t *testing.T) {
	l, err := Ensure(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка Ensure: %v", err)
	}

	usage, err := l.DiskUsage()
	if err != nil {
		t.Fatalf("ошибка DiskUsage: %v", err)
	}
	if usage.Total <= 0 {
		t.Errorf("Total должен быть положительным, получено %d", usage.Total)
	}
	if usage.Available < 0 || usage.Available > usage.Total {
		t.Errorf("некорректный Available: %d (Total %d)", usage.Available, usage.Total)
	}
	if usage.Used != usage.Total-usage.Available {
		t.Errorf("Used = %d, ожидалось %d", usage.Used, usage.Total-usage.Available)
	}
}

func TestGetDiskUsage_MissingPath(t *testing.T) {
	if _, err := GetDiskUsage(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("ожидалась ошибка для несуществующего пути")
	}
}
