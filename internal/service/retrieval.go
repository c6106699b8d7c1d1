// retrieval.go — сервис чтения заявок для администраторов.
// Источник истины — файлы applications/{id}.json, индекс в памяти не ведётся.
package service

import (
	"cmp"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/guidehub/guide-intake/internal/domain/model"
	"github.com/bigkaa/guidehub/guide-intake/internal/storage/filestore"
	"github.com/bigkaa/guidehub/guide-intake/internal/storage/record"
)

// Ограничения пагинации списка заявок.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// ListResult — страница списка заявок.
type ListResult struct {
	Items []model.ApplicationSummary
	// Total — общее количество читаемых заявок
	Total int
}

// AttachmentFile — открытый файл заявки для скачивания.
// Вызывающий код обязан закрыть File.
type AttachmentFile struct {
	File        *os.File
	Name        string
	ContentType string
	Size        int64
	ModTime     time.Time
}

// RetrievalService — сервис чтения заявок.
type RetrievalService struct {
	store  *filestore.FileStore
	cache  *RecordCache
	logger *slog.Logger
}

// NewRetrievalService создаёт сервис чтения заявок.
func NewRetrievalService(store *filestore.FileStore, cache *RecordCache, logger *slog.Logger) *RetrievalService {
	return &RetrievalService{
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "retrieval")),
	}
}

// List возвращает краткие сведения о заявках, новые первыми.
// Нечитаемые файлы пропускаются с предупреждением в логе.
// limit <= 0 — значение по умолчанию, limit > MaxListLimit обрезается.
func (s *RetrievalService) List(ctx context.Context, limit, offset int) (*ListResult, error) {
	limit, offset = normalizePage(limit, offset)

	paths, err := record.List(s.store.Layout().Applications())
	if err != nil {
		s.logger.Error("Ошибка сканирования директории заявок", slog.String("error", err.Error()))
		return nil, storageErr(err)
	}

	summaries := make([]model.ApplicationSummary, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := s.load(record.IDFromPath(path), path)
		if err != nil {
			s.logger.Warn("Заявка пропущена при чтении списка",
				slog.String("file", filepath.Base(path)),
				slog.String("error", err.Error()),
			)
			continue
		}
		summaries = append(summaries, rec.Summary())
	}

	slices.SortFunc(summaries, func(a, b model.ApplicationSummary) int {
		if c := b.SubmittedAt.Compare(a.SubmittedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	total := len(summaries)
	start := min(offset, total)
	end := min(start+limit, total)

	return &ListResult{
		Items: summaries[start:end],
		Total: total,
	}, nil
}

// Get возвращает заявку по id. Некорректный или неизвестный id → NotFoundError.
func (s *RetrievalService) Get(ctx context.Context, id string) (*model.ApplicationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, &NotFoundError{ID: id}
	}
	canonical := parsed.String()

	path := filepath.Join(s.store.Layout().Applications(), record.FileName(canonical))
	rec, err := s.load(canonical, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{ID: id}
		}
		s.logger.Error("Ошибка чтения заявки",
			slog.String("application_id", canonical),
			slog.String("error", err.Error()),
		)
		return nil, storageErr(err)
	}
	return rec, nil
}

// OpenAttachment открывает файл заявки указанного вида для скачивания.
func (s *RetrievalService) OpenAttachment(ctx context.Context, id string, kind model.FileKind) (*AttachmentFile, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rel := rec.FilePath(kind)
	if rel == "" {
		return nil, &NotFoundError{ID: id}
	}

	abs, err := s.store.Layout().Abs(rel)
	if err != nil {
		s.logger.Warn("Путь файла заявки вне хранилища",
			slog.String("application_id", rec.ID),
			slog.String("kind", string(kind)),
		)
		return nil, &NotFoundError{ID: id}
	}

	f, err := s.store.Open(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Файл заявки отсутствует на диске",
				slog.String("application_id", rec.ID),
				slog.String("kind", string(kind)),
			)
			return nil, &NotFoundError{ID: id}
		}
		return nil, storageErr(err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, storageErr(err)
	}

	result := &AttachmentFile{
		File:        f,
		Name:        filepath.Base(abs),
		ContentType: "application/octet-stream",
		Size:        info.Size(),
		ModTime:     info.ModTime(),
	}
	if att := rec.Attachment(kind); att != nil && att.ContentType != "" {
		result.ContentType = att.ContentType
	}
	return result, nil
}

// load читает заявку через кэш.
func (s *RetrievalService) load(id, path string) (*model.ApplicationRecord, error) {
	if rec, ok := s.cache.Get(id); ok {
		return rec, nil
	}

	rec, err := record.Read(path)
	if err != nil {
		return nil, err
	}
	s.cache.Add(rec)
	return rec, nil
}

// normalizePage приводит параметры пагинации к допустимым значениям.
func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
