// janitor.go — сервис фоновой очистки хранилища заявок.
//
// Janitor выполняет три задачи:
//  1. Удаляет брошенные staging-директории (запросы, прерванные аварией)
//  2. Удаляет завершённые записи WAL
//  3. Считает файлы в resumes/ и videos/, на которые не ссылается ни одна
//     заявка (orphan). Такие файлы только отражаются в метрике и логе, не удаляются.
//
// Запускается как горутина с периодическим тикером (GI_JANITOR_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/guidehub/guide-intake/internal/config"
	"github.com/bigkaa/guidehub/guide-intake/internal/storage/filestore"
	"github.com/bigkaa/guidehub/guide-intake/internal/storage/record"
	"github.com/bigkaa/guidehub/guide-intake/internal/storage/wal"
)

// Prometheus метрики janitor
var (
	// janitorRunsTotal — количество запусков очистки.
	janitorRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gi_janitor_runs_total",
		Help: "Общее количество запусков фоновой очистки",
	})

	// janitorStagingRemovedTotal — количество удалённых staging-директорий.
	janitorStagingRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gi_janitor_staging_removed_total",
		Help: "Количество удалённых брошенных staging-директорий",
	})

	// orphanFiles — файлы без заявки на момент последней проверки.
	orphanFiles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gi_orphan_files",
		Help: "Количество файлов без ссылающейся на них заявки",
	}, []string{"kind"})

	// janitorDurationSeconds — длительность выполнения очистки.
	janitorDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gi_janitor_duration_seconds",
		Help:    "Длительность выполнения фоновой очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// JanitorResult — результат одного запуска очистки.
type JanitorResult struct {
	// StagingRemoved — количество удалённых staging-директорий
	StagingRemoved int
	// WALCleaned — количество удалённых завершённых WAL-записей
	WALCleaned int
	// OrphanResumes, OrphanVideos — файлы без заявки старше GI_ORPHAN_GRACE
	OrphanResumes int
	OrphanVideos  int
	// Errors — количество ошибок при обработке
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// JanitorService — сервис фоновой очистки.
type JanitorService struct {
	store         *filestore.FileStore
	walEngine     *wal.WAL
	interval      time.Duration
	stagingMaxAge time.Duration
	orphanGrace   time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJanitorService создаёт сервис фоновой очистки.
func NewJanitorService(
	cfg *config.Config,
	store *filestore.FileStore,
	walEngine *wal.WAL,
	logger *slog.Logger,
) *JanitorService {
	return &JanitorService{
		store:         store,
		walEngine:     walEngine,
		interval:      cfg.JanitorInterval,
		stagingMaxAge: cfg.StagingMaxAge,
		orphanGrace:   cfg.OrphanGrace,
		logger:        logger.With(slog.String("component", "janitor")),
		now:           time.Now,
	}
}

// Start запускает фоновую горутину очистки с периодическим тикером.
// Вызывается один раз при старте приложения.
func (j *JanitorService) Start(ctx context.Context) {
	jCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})

	go j.run(jCtx)

	j.logger.Info("Janitor запущен",
		slog.String("interval", j.interval.String()),
	)
}

// Stop останавливает фоновую очистку и ждёт завершения текущего прохода.
func (j *JanitorService) Stop() {
	if j.cancel != nil {
		j.cancel()
		<-j.done
	}
	j.logger.Info("Janitor остановлен")
}

// run — основной цикл фоновой горутины.
func (j *JanitorService) run(ctx context.Context) {
	defer close(j.done)

	// Первый запуск — сразу после старта
	j.RunOnce()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce()
		}
	}
}

// RunOnce выполняет один проход очистки.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (j *JanitorService) RunOnce() *JanitorResult {
	j.mu.Lock()
	defer j.mu.Unlock()

	start := time.Now()
	result := &JanitorResult{}
	now := j.now()

	// Фаза 1: брошенные staging-директории
	removed, errs := j.cleanStaging(now)
	result.StagingRemoved = removed
	result.Errors += errs

	// Фаза 2: завершённые WAL-записи
	cleaned, err := j.walEngine.CleanCompleted(0)
	if err != nil {
		j.logger.Error("Janitor: ошибка очистки WAL", slog.String("error", err.Error()))
		result.Errors++
	}
	result.WALCleaned = cleaned

	// Фаза 3: файлы без заявки
	resumes, videos, errs := j.countOrphans(now)
	result.OrphanResumes = resumes
	result.OrphanVideos = videos
	result.Errors += errs

	result.Duration = time.Since(start)

	janitorRunsTotal.Inc()
	janitorStagingRemovedTotal.Add(float64(removed))
	janitorDurationSeconds.Observe(result.Duration.Seconds())

	j.logger.Info("Janitor завершён",
		slog.Int("staging_removed", result.StagingRemoved),
		slog.Int("wal_cleaned", result.WALCleaned),
		slog.Int("orphan_resumes", result.OrphanResumes),
		slog.Int("orphan_videos", result.OrphanVideos),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}

// cleanStaging удаляет staging-директории старше stagingMaxAge.
// Более свежие могут принадлежать запросам, которые ещё выполняются.
func (j *JanitorService) cleanStaging(now time.Time) (removed, errs int) {
	dir := j.store.Layout().Staging()
	entries, err := os.ReadDir(dir)
	if err != nil {
		j.logger.Error("Janitor: ошибка чтения staging", slog.String("error", err.Error()))
		return 0, 1
	}

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// Директорию удалил завершившийся запрос
			continue
		}
		if now.Sub(info.ModTime()) < j.stagingMaxAge {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			j.logger.Error("Janitor: ошибка удаления staging-директории",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			errs++
			continue
		}

		j.logger.Debug("Janitor: staging-директория удалена", slog.String("path", path))
		removed++
	}

	return removed, errs
}

// countOrphans находит файлы в resumes/ и videos/, на которые не ссылается
// ни одна заявка. Свежие файлы (моложе orphanGrace) не учитываются:
// их заявка может быть ещё не записана.
func (j *JanitorService) countOrphans(now time.Time) (resumes, videos, errs int) {
	l := j.store.Layout()

	records, skipped, err := record.ScanDir(l.Applications())
	if err != nil {
		j.logger.Error("Janitor: ошибка чтения заявок", slog.String("error", err.Error()))
		return 0, 0, 1
	}
	if skipped > 0 {
		// Файлы нечитаемых заявок могли бы выглядеть осиротевшими
		j.logger.Warn("Janitor: пропущены нечитаемые заявки", slog.Int("skipped", skipped))
	}

	referenced := make(map[string]bool, len(records)*2)
	for _, rec := range records {
		if rec.Files.Resume != nil {
			referenced[*rec.Files.Resume] = true
		}
		if rec.Files.Video != nil {
			referenced[*rec.Files.Video] = true
		}
	}

	resumes, e1 := j.scanOrphans(l.Resumes(), referenced, now)
	videos, e2 := j.scanOrphans(l.Videos(), referenced, now)

	orphanFiles.WithLabelValues("resume").Set(float64(resumes))
	orphanFiles.WithLabelValues("video").Set(float64(videos))

	return resumes, videos, e1 + e2
}

// scanOrphans считает неупомянутые файлы в одной директории.
func (j *JanitorService) scanOrphans(dir string, referenced map[string]bool, now time.Time) (orphans, errs int) {
	l := j.store.Layout()

	entries, err := os.ReadDir(dir)
	if err != nil {
		j.logger.Error("Janitor: ошибка чтения директории",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		return 0, 1
	}

	for _, entry := range entries {
		// Пропускаем директории и служебные файлы (.write_test и т.п.)
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		full := filepath.Join(dir, entry.Name())
		rel, err := l.Rel(full)
		if err != nil || referenced[rel] {
			continue
		}

		info, err := entry.Info()
		if err != nil || now.Sub(info.ModTime()) < j.orphanGrace {
			continue
		}

		j.logger.Warn("Janitor: файл без заявки",
			slog.String("path", rel),
			slog.Int64("size", info.Size()),
			slog.Time("mod_time", info.ModTime()),
		)
		orphans++
	}

	return orphans, 0
}
