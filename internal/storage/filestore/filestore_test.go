package filestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bigkaa/guidehub/guide-intake/internal/storage/layout"
)

// newTestStore создаёт FileStore во временной директории.
func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	l, err := layout.Ensure(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания layout: %v", err)
	}
	return New(l)
}

func TestStagingWrite(t *testing.T) {
	store := newTestStore(t)
	staging, err := store.NewStaging()
	if err != nil {
		t.Fatalf("ошибка NewStaging: %v", err)
	}
	defer staging.Cleanup()

	data := []byte("%PDF-1.4 test content")
	staged, err := staging.Write(bytes.NewReader(data), 1024)
	if err != nil {
		t.Fatalf("ошибка Write: %v", err)
	}

	if staged.Size != int64(len(data)) {
		t.Errorf("Size: ожидалось %d, получено %d", len(data), staged.Size)
	}
	sum := sha256.Sum256(data)
	if staged.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("Checksum: ожидалось %x, получено %s", sum, staged.Checksum)
	}
	if filepath.Dir(staged.Path) != staging.Dir() {
		t.Errorf("файл записан вне staging: %s", staged.Path)
	}
}

// TestStagingWrite_Limit проверяет остановку на limit+1 байтах и удаление файла.
func TestStagingWrite_Limit(t *testing.T) {
	store := newTestStore(t)
	staging, err := store.NewStaging()
	if err != nil {
		t.Fatalf("ошибка NewStaging: %v", err)
	}
	defer staging.Cleanup()

	data := bytes.Repeat([]byte("x"), 2048)
	_, err = staging.Write(bytes.NewReader(data), 1000)

	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("ожидалась LimitError, получено %v", err)
	}
	if limitErr.Limit != 1000 || limitErr.Read != 1001 {
		t.Errorf("LimitError: ожидалось {1000 1001}, получено {%d %d}", limitErr.Limit, limitErr.Read)
	}

	entries, _ := os.ReadDir(staging.Dir())
	if len(entries) != 0 {
		t.Errorf("staging должен быть пуст, найдено %d файлов", len(entries))
	}
}

// TestStagingWrite_ExactLimit проверяет, что файл ровно в лимит принимается.
func TestStagingWrite_ExactLimit(t *testing.T) {
	store := newTestStore(t)
	staging, err := store.NewStaging()
	if err != nil {
		t.Fatalf("ошибка NewStaging: %v", err)
	}
	defer staging.Cleanup()

	staged, err := staging.Write(bytes.NewReader(bytes.Repeat([]byte("x"), 1000)), 1000)
	if err != nil {
		t.Fatalf("файл ровно в лимит должен приниматься: %v", err)
	}
	if staged.Size != 1000 {
		t.Errorf("Size: ожидалось 1000, получено %d", staged.Size)
	}
}

func TestDiscard(t *testing.T) {
	n, err := Discard(strings.NewReader("12345"), 10)
	if err != nil || n != 5 {
		t.Errorf("Discard: ожидалось (5, nil), получено (%d, %v)", n, err)
	}

	_, err = Discard(strings.NewReader("12345"), 3)
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Errorf("ожидалась LimitError, получено %v", err)
	}
}

func TestPublish(t *testing.T) {
	store := newTestStore(t)
	staging, err := store.NewStaging()
	if err != nil {
		t.Fatalf("ошибка NewStaging: %v", err)
	}
	defer staging.Cleanup()

	staged, err := staging.Write(strings.NewReader("resume"), 100)
	if err != nil {
		t.Fatalf("ошибка Write: %v", err)
	}

	target := filepath.Join(store.Layout().Resumes(), "id_Jane.pdf")
	if err := store.Publish(staged, target); err != nil {
		t.Fatalf("ошибка Publish: %v", err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("опубликованный файл не читается: %v", err)
	}
	if string(data) != "resume" {
		t.Errorf("содержимое: ожидалось 'resume', получено %q", data)
	}
	if _, err := os.Stat(staged.Path); !os.IsNotExist(err) {
		t.Error("staged файл должен быть удалён после публикации")
	}
}

// TestPublish_NoOverwrite проверяет семантику create-if-absent.
func TestPublish_NoOverwrite(t *testing.T) {
	store := newTestStore(t)
	staging, err := store.NewStaging()
	if err != nil {
		t.Fatalf("ошибка NewStaging: %v", err)
	}
	defer staging.Cleanup()

	target := filepath.Join(store.Layout().Resumes(), "taken.pdf")
	if err := os.WriteFile(target, []byte("original"), 0o640); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	staged, err := staging.Write(strings.NewReader("intruder"), 100)
	if err != nil {
		t.Fatalf("ошибка Write: %v", err)
	}

	if err := store.Publish(staged, target); !errors.Is(err, ErrTargetExists) {
		t.Fatalf("ожидалась ErrTargetExists, получено %v", err)
	}

	data, _ := os.ReadFile(target)
	if string(data) != "original" {
		t.Errorf("существующий файл перезаписан: %q", data)
	}
}

// TestConcurrentStagings проверяет изоляцию параллельных запросов.
func TestConcurrentStagings(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			staging, err := store.NewStaging()
			if err != nil {
				errs <- err
				return
			}
			defer staging.Cleanup()
			if _, err := staging.Write(strings.NewReader("data"), 100); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("ошибка параллельной записи: %v", err)
	}
}

func TestCleanup(t *testing.T) {
	store := newTestStore(t)
	staging, err := store.NewStaging()
	if err != nil {
		t.Fatalf("ошибка NewStaging: %v", err)
	}
	if _, err := staging.Write(strings.NewReader("data"), 100); err != nil {
		t.Fatalf("ошибка Write: %v", err)
	}

	if err := staging.Cleanup(); err != nil {
		t.Fatalf("ошибка Cleanup: %v", err)
	}
	if _, err := os.Stat(staging.Dir()); !os.IsNotExist(err) {
		t.Error("staging-директория должна быть удалена")
	}
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Jane Doe", "Jane_Doe"},
		{"  Jane  ", "Jane"},
		{"../../etc/passwd", "______etc_passwd"},
		{"O'Brien-Smith_2", "O_Brien-Smith_2"},
		{"", "candidate"},
		{"   ", "candidate"},
		{"Иван", "____"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}

	for _, tt := range tests {
		if got := SafeName(tt.input); got != tt.want {
			t.Errorf("SafeName(%q): ожидалось %q, получено %q", tt.input, tt.want, got)
		}
	}
}

func TestSafeExt(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"cv.pdf", ".pdf"},
		{"CV.DOCX", ".docx"},
		{"intro.webm", ".webm"},
		{"noext", ".bin"},
		{"", ".bin"},
		{"trailing.", ".bin"},
		{"evil.p/df", ".bin"},
		{"weird.pd f", ".bin"},
		{"long.abcdefghijk", ".bin"},
		{"../../x.mp4", ".mp4"},
	}

	for _, tt := range tests {
		if got := SafeExt(tt.input); got != tt.want {
			t.Errorf("SafeExt(%q): ожидалось %q, получено %q", tt.input, tt.want, got)
		}
	}
}

func TestStorageName(t *testing.T) {
	got := StorageName("0192f1d2-7c1e-7aaa-9d4e-3b1f0c2a9e11", "Jane Doe", "cv.PDF")
	want := "0192f1d2-7c1e-7aaa-9d4e-3b1f0c2a9e11_Jane_Doe.pdf"
	if got != want {
		t.Errorf("StorageName: ожидалось %q, получено %q", want, got)
	}
}
