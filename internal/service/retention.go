// retention.go - фоновая очистка прочитанных уведомлений.
//
// RetentionService запускает горутину с ticker (PA_RETENTION_INTERVAL) и мягко
// удаляет прочитанные уведомления старше NOTIFICATION_RETENTION_DAYS.
// Физически строки не удаляются.
//
// Prometheus-метрики:
//   - pa_retention_marked_total - число мягко удалённых уведомлений
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/project-assistant/internal/repository"
)

var retentionMarked = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pa_retention_marked_total",
	Help: "Количество уведомлений, мягко удалённых по сроку хранения",
})

// RetentionService - фоновый сервис очистки уведомлений.
type RetentionService struct {
	repo     repository.NotificationRepository
	days     int
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetentionService создаёт сервис очистки.
func NewRetentionService(
	repo repository.NotificationRepository,
	days int,
	interval time.Duration,
	logger *slog.Logger,
) *RetentionService {
	return &RetentionService{
		repo:     repo,
		days:     days,
		interval: interval,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "retention")),
	}
}

// Start запускает фоновую горутину с периодической очисткой.
func (s *RetentionService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Очистка уведомлений запущена",
			slog.String("interval", s.interval.String()),
			slog.Int("retention_days", s.days),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Очистка уведомлений остановлена")
				return
			case <-ticker.C:
				marked, err := s.RunNow(ctx)
				if err != nil {
					s.logger.Error("Ошибка очистки уведомлений",
						slog.String("error", err.Error()),
					)
					continue
				}
				if marked > 0 {
					s.logger.Info("Устаревшие уведомления помечены удалёнными",
						slog.Int64("count", marked),
					)
				}
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *RetentionService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// RunNow выполняет очистку немедленно и возвращает число затронутых уведомлений.
func (s *RetentionService) RunNow(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -s.days)
	n, err := s.repo.SoftDeleteReadBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("очистка уведомлений старше %s: %w", cutoff.Format(time.RFC3339), err)
	}
	retentionMarked.Add(float64(n))
	return n, nil
}
