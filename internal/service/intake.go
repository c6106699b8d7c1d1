// intake.go — сервис приёма заявок гидов с WAL-транзакциями.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/guidehub/guide-intake/internal/config"
	"github.com/bigkaa/guidehub/guide-intake/internal/domain/model"
	"github.com/bigkaa/guidehub/guide-intake/internal/storage/filestore"
	"github.com/bigkaa/guidehub/guide-intake/internal/storage/layout"
	"github.com/bigkaa/guidehub/guide-intake/internal/storage/record"
	"github.com/bigkaa/guidehub/guide-intake/internal/storage/wal"
)

// Имена полей формы.
const (
	fieldFullName        = "fullName"
	fieldEmail           = "email"
	fieldPhone           = "phone"
	fieldLocation        = "location"
	fieldLanguages       = "languages"
	fieldExperienceYears = "experienceYears"
	fieldBio             = "bio"
	fieldSocialEmails    = "socialEmails"
	fieldFacebook        = "facebook"
	fieldInstagram       = "instagram"
	fieldTwitter         = "twitter"
	fieldTikTok          = "tiktok"
	fieldYouTube         = "youtube"

	fieldResume    = "resume"
	fieldVideo     = "video"
	fieldVideoFile = "videoFile"
)

// requiredFields — обязательные текстовые поля в порядке проверки.
var requiredFields = []string{fieldFullName, fieldEmail, fieldBio}

// Prometheus метрики приёма заявок
var (
	// applicationsTotal — количество обработанных заявок по результату.
	applicationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gi_applications_total",
		Help: "Общее количество обработанных заявок",
	}, []string{"result"})

	// uploadBytesTotal — объём сохранённых файлов по виду.
	uploadBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gi_upload_bytes_total",
		Help: "Объём сохранённых файлов заявок в байтах",
	}, []string{"kind"})

	// videosDroppedTotal — количество отброшенных видео с недопустимым типом.
	videosDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gi_videos_dropped_total",
		Help: "Количество видео, отброшенных из-за недопустимого типа",
	})

	// intakeDurationSeconds — длительность приёма заявки.
	intakeDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gi_intake_duration_seconds",
		Help:    "Длительность приёма заявки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
	})
)

// SubmitResult — результат приёма заявки.
type SubmitResult struct {
	// Record — сохранённая заявка
	Record *model.ApplicationRecord
	// StorePath — путь файла заявки относительно корня хранилища
	StorePath string
}

// IntakeService — сервис приёма заявок.
// Не хранит состояния между запросами: каждый запрос работает
// в собственной staging-директории, имена целевых файлов уникальны по id.
type IntakeService struct {
	cfg       *config.Config
	store     *filestore.FileStore
	walEngine *wal.WAL
	logger    *slog.Logger
	now       func() time.Time
}

// NewIntakeService создаёт сервис приёма заявок.
func NewIntakeService(
	cfg *config.Config,
	store *filestore.FileStore,
	walEngine *wal.WAL,
	logger *slog.Logger,
) *IntakeService {
	return &IntakeService{
		cfg:       cfg,
		store:     store,
		walEngine: walEngine,
		logger:    logger.With(slog.String("component", "intake")),
		now:       time.Now,
	}
}

// stagedPart — файл заявки, записанный во staging.
type stagedPart struct {
	field        string
	originalName string
	contentType  string
	file         *filestore.StagedFile
}

// intakeForm — разобранная multipart-форма.
type intakeForm struct {
	fields map[string]string
	resume *stagedPart
	video  *stagedPart
}

// Submit принимает заявку из multipart-потока.
//
// Поток:
//  1. Чтение частей во staging (с лимитами и проверкой заявленных типов)
//  2. Проверка обязательных полей и резюме
//  3. Проверка содержимого резюме по сигнатуре
//  4. WAL StartTransaction со всеми целевыми путями
//  5. Публикация резюме, затем видео
//  6. Запись applications/{id}.json
//  7. WAL Commit
//
// При ошибке на шагах 5–6 опубликованные файлы удаляются, WAL откатывается.
// Staging-директория запроса удаляется всегда.
func (s *IntakeService) Submit(ctx context.Context, mr *multipart.Reader) (*SubmitResult, error) {
	start := time.Now()

	result, err := s.submit(ctx, mr)

	intakeDurationSeconds.Observe(time.Since(start).Seconds())
	applicationsTotal.WithLabelValues(resultLabel(err)).Inc()

	return result, err
}

func (s *IntakeService) submit(ctx context.Context, mr *multipart.Reader) (*SubmitResult, error) {
	staging, err := s.store.NewStaging()
	if err != nil {
		s.logger.Error("Ошибка создания staging-директории", slog.String("error", err.Error()))
		return nil, storageErr(err)
	}
	defer func() {
		if err := staging.Cleanup(); err != nil {
			s.logger.Warn("Не удалось удалить staging-директорию",
				slog.String("dir", staging.Dir()),
				slog.String("error", err.Error()),
			)
		}
	}()

	form, err := s.readForm(ctx, mr, staging)
	if err != nil {
		return nil, err
	}

	if err := form.validate(); err != nil {
		return nil, err
	}

	if s.cfg.SniffResume {
		if err := s.checkResumeContent(form.resume); err != nil {
			return nil, err
		}
	}

	return s.persist(form)
}

// readForm читает все части формы. Текстовые поля — в память с лимитом,
// файлы — во staging с подсчётом SHA-256.
func (s *IntakeService) readForm(ctx context.Context, mr *multipart.Reader, staging *filestore.Staging) (*intakeForm, error) {
	form := &intakeForm{fields: make(map[string]string)}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		part, err := mr.NextPart()
		// Конец формы — только «голый» io.EOF, обёрнутый означает обрыв тела
		if err == io.EOF { //nolint:errorlint // сравнение намеренно точное
			return form, nil
		}
		if err != nil {
			return nil, s.streamError(err)
		}

		err = s.readPart(part, staging, form)
		part.Close()
		if err != nil {
			return nil, err
		}
	}
}

// readPart обрабатывает одну часть формы.
func (s *IntakeService) readPart(part *multipart.Part, staging *filestore.Staging, form *intakeForm) error {
	name := part.FormName()
	src := &trackingReader{r: part}

	switch {
	case name == fieldResume || name == fieldVideo || name == fieldVideoFile:
		// Пустой <input type=file> браузер отправляет с filename=""
		if part.FileName() == "" {
			return s.discard(src, name, s.cfg.PartMaxSize)
		}
		if name == fieldResume {
			return s.readResume(part, src, staging, form)
		}
		return s.readVideo(part, src, staging, form)

	case part.FileName() != "":
		s.drainQuietly(src)
		return &ValidationError{Field: name, Message: fmt.Sprintf("Unexpected file field: %s", name)}

	case name == "":
		return s.discard(src, name, s.cfg.FieldMaxSize)

	default:
		data, err := io.ReadAll(io.LimitReader(src, s.cfg.FieldMaxSize+1))
		if err != nil {
			return s.streamError(err)
		}
		if int64(len(data)) > s.cfg.FieldMaxSize {
			return &PayloadTooLargeError{Field: name, LimitBytes: s.cfg.FieldMaxSize, ActualBytes: int64(len(data))}
		}
		// Первое значение поля побеждает
		if _, seen := form.fields[name]; !seen {
			form.fields[name] = string(data)
		}
		return nil
	}
}

// readResume проверяет заявленный тип резюме до чтения тела и пишет его во staging.
func (s *IntakeService) readResume(part *multipart.Part, src *trackingReader, staging *filestore.Staging, form *intakeForm) error {
	if form.resume != nil {
		s.drainQuietly(src)
		return &ValidationError{Field: fieldResume, Message: "Only one resume file is allowed"}
	}

	contentType := normalizeContentType(part.Header.Get("Content-Type"))
	if !isAllowedResumeType(contentType) {
		s.drainQuietly(src)
		return &ValidationError{Field: fieldResume, Message: "unsupported resume type"}
	}

	limit := min(s.cfg.ResumeMaxSize, s.cfg.PartMaxSize)
	staged, err := s.stage(staging, src, fieldResume, limit)
	if err != nil {
		return err
	}
	if staged.Size == 0 {
		staging.Remove(staged)
		return nil
	}

	form.resume = &stagedPart{
		field:        fieldResume,
		originalName: part.FileName(),
		contentType:  contentType,
		file:         staged,
	}
	return nil
}

// readVideo обрабатывает video/videoFile. Недопустимый тип по умолчанию
// отбрасывается, при GI_REJECT_INVALID_VIDEO — отклоняет заявку.
// Если пришли оба поля, побеждает video.
func (s *IntakeService) readVideo(part *multipart.Part, src *trackingReader, staging *filestore.Staging, form *intakeForm) error {
	name := part.FormName()
	contentType := normalizeContentType(part.Header.Get("Content-Type"))

	if !isAllowedVideoType(contentType) {
		if s.cfg.RejectInvalidVideo {
			s.drainQuietly(src)
			return &ValidationError{Field: fieldVideo, Message: "unsupported video type"}
		}
		videosDroppedTotal.Inc()
		s.logger.Info("Видео с недопустимым типом отброшено",
			slog.String("field", name),
			slog.String("content_type", contentType),
		)
		return s.discard(src, name, s.cfg.PartMaxSize)
	}

	// Уже есть видео, которое приоритетнее или пришло раньше под тем же именем
	if form.video != nil && (form.video.field == fieldVideo || name == form.video.field) {
		return s.discard(src, name, s.cfg.PartMaxSize)
	}

	staged, err := s.stage(staging, src, name, s.cfg.PartMaxSize)
	if err != nil {
		return err
	}
	if staged.Size == 0 {
		staging.Remove(staged)
		return nil
	}

	if form.video != nil {
		// videoFile пришёл раньше video — заменяем
		staging.Remove(form.video.file)
	}
	form.video = &stagedPart{
		field:        name,
		originalName: part.FileName(),
		contentType:  contentType,
		file:         staged,
	}
	return nil
}

// stage пишет часть во staging и переводит ошибки в типы сервисного слоя.
func (s *IntakeService) stage(staging *filestore.Staging, src *trackingReader, field string, limit int64) (*filestore.StagedFile, error) {
	staged, err := staging.Write(src, limit)
	if err == nil {
		return staged, nil
	}

	var limitErr *filestore.LimitError
	if errors.As(err, &limitErr) {
		return nil, &PayloadTooLargeError{Field: field, LimitBytes: limitErr.Limit, ActualBytes: limitErr.Read}
	}
	if src.err != nil {
		return nil, s.streamError(src.err)
	}

	s.logger.Error("Ошибка записи файла во staging",
		slog.String("field", field),
		slog.String("error", err.Error()),
	)
	return nil, storageErr(err)
}

// discard дочитывает часть без сохранения, соблюдая лимит.
func (s *IntakeService) discard(src *trackingReader, field string, limit int64) error {
	if _, err := filestore.Discard(src, limit); err != nil {
		var limitErr *filestore.LimitError
		if errors.As(err, &limitErr) {
			return &PayloadTooLargeError{Field: field, LimitBytes: limitErr.Limit, ActualBytes: limitErr.Read}
		}
		return s.streamError(err)
	}
	return nil
}

// drainQuietly дочитывает часть перед отказом, чтобы клиент получил ответ,
// а не обрыв соединения. Ошибки игнорируются.
func (s *IntakeService) drainQuietly(src io.Reader) {
	_, _ = filestore.Discard(src, s.cfg.PartMaxSize)
}

// streamError переводит ошибку чтения тела запроса в ошибку сервисного слоя.
func (s *IntakeService) streamError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return &PayloadTooLargeError{Field: "request", LimitBytes: maxBytesErr.Limit, ActualBytes: maxBytesErr.Limit + 1}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ValidationError{Message: "Malformed multipart body"}
}

// validate проверяет обязательные поля и наличие резюме.
func (f *intakeForm) validate() error {
	for _, name := range requiredFields {
		if strings.TrimSpace(f.fields[name]) == "" {
			return &ValidationError{Field: name, Message: "Missing required field: " + name}
		}
	}
	if f.resume == nil {
		return &ValidationError{Field: fieldResume, Message: "Resume is required."}
	}
	return nil
}

// checkResumeContent сверяет сигнатуру резюме с заявленным типом.
func (s *IntakeService) checkResumeContent(resume *stagedPart) error {
	detected, ok, err := sniffResume(resume.file.Path, resume.contentType)
	if err != nil {
		s.logger.Error("Ошибка чтения резюме из staging", slog.String("error", err.Error()))
		return storageErr(err)
	}
	if !ok {
		s.logger.Info("Содержимое резюме не совпадает с заявленным типом",
			slog.String("declared", resume.contentType),
			slog.String("detected", detected),
		)
		return &ValidationError{Field: fieldResume, Message: "resume content does not match its declared type"}
	}
	return nil
}

// persist публикует файлы и записывает заявку под WAL-транзакцией.
func (s *IntakeService) persist(form *intakeForm) (*SubmitResult, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, storageErr(fmt.Errorf("ошибка генерации id: %w", err))
	}
	appID := id.String()
	l := s.store.Layout()
	fullName := strings.TrimSpace(form.fields[fieldFullName])

	resumeTarget := filepath.Join(l.Resumes(), filestore.StorageName(appID, fullName, form.resume.originalName))
	var videoTarget string
	if form.video != nil {
		videoTarget = filepath.Join(l.Videos(), filestore.StorageName(appID, fullName, form.video.originalName))
	}
	recordTarget := filepath.Join(l.Applications(), record.FileName(appID))
	storePath, err := l.Rel(recordTarget)
	if err != nil {
		return nil, storageErr(err)
	}

	targets := []string{resumeTarget}
	if videoTarget != "" {
		targets = append(targets, videoTarget)
	}
	targets = append(targets, recordTarget)

	walEntry, err := s.walEngine.StartTransaction(wal.OpApplicationCreate, appID, targets)
	if err != nil {
		s.logger.Error("Ошибка создания WAL-транзакции", slog.String("error", err.Error()))
		return nil, storageErr(err)
	}

	var published []string
	rollback := func(cause error) error {
		for _, p := range published {
			if err := s.store.Delete(p); err != nil {
				s.logger.Error("Ошибка удаления опубликованного файла",
					slog.String("path", p),
					slog.String("error", err.Error()),
				)
			}
		}
		if rbErr := s.walEngine.Rollback(walEntry.TransactionID); rbErr != nil {
			s.logger.Error("Ошибка отката WAL",
				slog.String("tx_id", walEntry.TransactionID),
				slog.String("error", rbErr.Error()),
			)
		}
		s.logger.Error("Ошибка сохранения заявки",
			slog.String("application_id", appID),
			slog.String("error", cause.Error()),
		)
		return storageErr(cause)
	}

	if err := s.store.Publish(form.resume.file, resumeTarget); err != nil {
		return nil, rollback(err)
	}
	published = append(published, resumeTarget)

	if videoTarget != "" {
		if err := s.store.Publish(form.video.file, videoTarget); err != nil {
			return nil, rollback(err)
		}
		published = append(published, videoTarget)
	}

	rec, err := s.buildRecord(appID, form, l, resumeTarget, videoTarget)
	if err != nil {
		return nil, rollback(err)
	}

	if err := record.Create(recordTarget, rec); err != nil {
		return nil, rollback(err)
	}

	if err := s.walEngine.Commit(walEntry.TransactionID); err != nil {
		// Заявка уже видна, коммит WAL — best effort
		s.logger.Error("Ошибка коммита WAL (заявка сохранена)",
			slog.String("tx_id", walEntry.TransactionID),
			slog.String("application_id", appID),
			slog.String("error", err.Error()),
		)
	}

	uploadBytesTotal.WithLabelValues(string(model.KindResume)).Add(float64(form.resume.file.Size))
	if form.video != nil {
		uploadBytesTotal.WithLabelValues(string(model.KindVideo)).Add(float64(form.video.file.Size))
	}

	s.logger.Info("Заявка принята",
		slog.String("application_id", appID),
		slog.Int64("resume_size", form.resume.file.Size),
		slog.Bool("video", form.video != nil),
	)

	return &SubmitResult{Record: rec, StorePath: storePath}, nil
}

// buildRecord формирует заявку из полей формы и опубликованных файлов.
func (s *IntakeService) buildRecord(appID string, form *intakeForm, l *layout.Layout, resumeTarget, videoTarget string) (*model.ApplicationRecord, error) {
	resumeRel, err := l.Rel(resumeTarget)
	if err != nil {
		return nil, err
	}

	rec := &model.ApplicationRecord{
		ID:              appID,
		SubmittedAt:     s.now().UTC().Truncate(time.Millisecond),
		FullName:        strings.TrimSpace(form.fields[fieldFullName]),
		Email:           strings.TrimSpace(form.fields[fieldEmail]),
		Phone:           form.optional(fieldPhone),
		Location:        form.optional(fieldLocation),
		Languages:       form.optional(fieldLanguages),
		ExperienceYears: form.optional(fieldExperienceYears),
		Bio:             strings.TrimSpace(form.fields[fieldBio]),
		SocialEmails:    form.optional(fieldSocialEmails),
		SocialLinks: model.SocialLinks{
			Facebook:  form.optional(fieldFacebook),
			Instagram: form.optional(fieldInstagram),
			Twitter:   form.optional(fieldTwitter),
			TikTok:    form.optional(fieldTikTok),
			YouTube:   form.optional(fieldYouTube),
		},
		Files: model.Files{
			Resume: &resumeRel,
		},
		Attachments: model.Attachments{
			Resume: form.resume.attachment(),
		},
	}

	if videoTarget != "" {
		videoRel, err := l.Rel(videoTarget)
		if err != nil {
			return nil, err
		}
		rec.Files.Video = &videoRel
		rec.Attachments.Video = form.video.attachment()
	}

	return rec, nil
}

// optional возвращает обрезанное значение поля или nil для пустого.
func (f *intakeForm) optional(name string) *string {
	v := strings.TrimSpace(f.fields[name])
	if v == "" {
		return nil
	}
	return &v
}

func (p *stagedPart) attachment() *model.Attachment {
	return &model.Attachment{
		OriginalName: filepath.Base(p.originalName),
		ContentType:  p.contentType,
		SizeBytes:    p.file.Size,
		SHA256:       p.file.Checksum,
	}
}

// RecoverPending откатывает незавершённые WAL-транзакции, оставшиеся
// после аварийной остановки: удаляет все их целевые файлы.
// Вызывается при старте, до приёма запросов. Возвращает число откатов.
func (s *IntakeService) RecoverPending() (int, error) {
	pending, err := s.walEngine.RecoverPending()
	if err != nil {
		return 0, err
	}

	l := s.store.Layout()
	recovered := 0
	for _, entry := range pending {
		for _, target := range entry.Targets {
			// Пути вне хранилища в журнале не ожидаются, но не трогаем их
			if _, err := l.Rel(target); err != nil {
				s.logger.Warn("WAL: целевой путь вне хранилища пропущен",
					slog.String("tx_id", entry.TransactionID),
					slog.String("path", target),
				)
				continue
			}
			if err := s.store.Delete(target); err != nil {
				s.logger.Error("WAL: ошибка удаления целевого файла",
					slog.String("tx_id", entry.TransactionID),
					slog.String("path", target),
					slog.String("error", err.Error()),
				)
			}
		}

		if err := s.walEngine.Rollback(entry.TransactionID); err != nil {
			s.logger.Error("WAL: ошибка отката транзакции",
				slog.String("tx_id", entry.TransactionID),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.logger.Info("WAL: незавершённая заявка откачена",
			slog.String("tx_id", entry.TransactionID),
			slog.String("application_id", entry.ApplicationID),
		)
		recovered++
	}

	return recovered, nil
}

// trackingReader запоминает ошибку чтения исходного потока, чтобы отличить
// обрыв или превышение лимита запроса от ошибки записи на диск.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		t.err = err
	}
	return n, err
}

// resultLabel возвращает значение лейбла result для метрик.
func resultLabel(err error) string {
	var (
		validationErr *ValidationError
		tooLargeErr   *PayloadTooLargeError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &validationErr):
		return "invalid"
	case errors.As(err, &tooLargeErr):
		return "too_large"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "aborted"
	default:
		return "error"
	}
}
