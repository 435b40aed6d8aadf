package apiclient

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Update - результат опроса уведомлений.
type Update struct {
	Notifications []Notification
	UnreadCount   int
	// Full - полное обновление; иначе дельта с прошлого опроса
	Full bool
}

// SchedulerConfig - параметры опроса. Нулевые интервалы берутся
// с сервера (GET /api/notifications/config) при Start.
type SchedulerConfig struct {
	PollingInterval     time.Duration
	FullRefreshInterval time.Duration
	ProjectID           *string
}

// Scheduler - общий планировщик опроса уведомлений для одного клиента.
// Короткий тикер запрашивает дельту (since), длинный - полный список.
// Упорядоченность короткого и длинного опросов не гарантируется: результат,
// полученный после Stop или после начала более нового полного обновления,
// отбрасывается по счётчику поколений.
type Scheduler struct {
	client *Client
	cfg    SchedulerConfig
	logger *slog.Logger

	mu         sync.Mutex
	subs       map[int]func(Update)
	nextID     int
	generation uint64
	lastSeen   time.Time
	running    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewScheduler создаёт планировщик опроса.
func NewScheduler(client *Client, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		client: client,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "notification_scheduler")),
		subs:   make(map[int]func(Update)),
	}
}

// Subscribe регистрирует получателя обновлений. Возвращает функцию отписки.
func (s *Scheduler) Subscribe(fn func(Update)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Start запускает опрос: сразу полное обновление, затем оба тикера.
// Повторный вызов без Stop ничего не делает.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if s.cfg.PollingInterval <= 0 || s.cfg.FullRefreshInterval <= 0 {
		pc, err := s.client.NotificationConfig(ctx)
		if err != nil {
			return err
		}
		if s.cfg.PollingInterval <= 0 {
			s.cfg.PollingInterval = time.Duration(pc.PollingIntervalMs) * time.Millisecond
		}
		if s.cfg.FullRefreshInterval <= 0 {
			s.cfg.FullRefreshInterval = time.Duration(pc.FullRefreshIntervalMs) * time.Millisecond
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.logger.Info("Опрос уведомлений запущен",
		slog.Duration("polling_interval", s.cfg.PollingInterval),
		slog.Duration("full_refresh_interval", s.cfg.FullRefreshInterval),
	)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.poll(ctx, true)
		s.loop(ctx, s.cfg.FullRefreshInterval, true)
	}()
	go func() {
		defer s.wg.Done()
		s.loop(ctx, s.cfg.PollingInterval, false)
	}()
	return nil
}

// Stop останавливает оба тикера и ждёт завершения текущих запросов.
// Результаты, пришедшие после Stop, не доставляются.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.generation++
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("Опрос уведомлений остановлен")
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, full bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx, full)
		}
	}
}

// poll выполняет один опрос. Ошибка логируется и пропускается, без повторов.
func (s *Scheduler) poll(ctx context.Context, full bool) {
	gen, since := s.begin(full)

	q := NotificationQuery{ProjectID: s.cfg.ProjectID}
	if !full && !since.IsZero() {
		q.Since = &since
	}
	list, err := s.client.ListNotifications(ctx, q)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("Ошибка опроса уведомлений",
				slog.Bool("full", full),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	s.deliver(gen, full, list)
}

// begin фиксирует поколение опроса. Полное обновление открывает новое
// поколение: начатые до него дельты устаревают.
func (s *Scheduler) begin(full bool) (uint64, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if full {
		s.generation++
	}
	return s.generation, s.lastSeen
}

// deliver передаёт результат подписчикам, если поколение актуально.
// Возвращает false для отброшенного результата.
func (s *Scheduler) deliver(gen uint64, full bool, list *NotificationList) bool {
	s.mu.Lock()
	if !s.running || gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("Устаревший результат опроса отброшен", slog.Bool("full", full))
		return false
	}
	for _, n := range list.Notifications {
		if n.CreatedAt.After(s.lastSeen) {
			s.lastSeen = n.CreatedAt
		}
	}
	subs := make([]func(Update), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	u := Update{Notifications: list.Notifications, UnreadCount: list.UnreadCount, Full: full}
	for _, fn := range subs {
		fn(u)
	}
	return true
}
