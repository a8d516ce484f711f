// Package engine содержит конечный автомат учебной сессии (focus / break).
//
// Движок — единственный владелец сессии. Все переходы выполняются под одним
// мьютексом: сначала фиксируется переход в памяти, затем применяются побочные
// эффекты (уведомления, сохранение, события). Ошибки побочных эффектов не
// откатывают переход и не возвращаются вызывающему: они логируются и
// записываются в Failures().
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/study-timer/internal/domain/shared"
	"github.com/alem-hub/study-timer/internal/domain/timer"
	"github.com/alem-hub/study-timer/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// DefaultMaxFailures - размер кольцевого буфера ошибок по умолчанию.
const DefaultMaxFailures = 32

// SideEffectTimeout ограничивает одно обращение к хранилищу или планировщику
// напоминаний. Отмена контекста вызывающего на эффекты не действует.
const SideEffectTimeout = 5 * time.Second

// Config содержит зависимости и настройки движка.
type Config struct {
	// Durations - длительности сегментов по умолчанию.
	Durations timer.Durations

	// Clock - источник настенного времени.
	Clock timeutil.Clock

	// Store - хранилище снимка. Обязательно.
	Store timer.SnapshotStore

	// Notifier - планировщик напоминаний. Обязателен.
	Notifier timer.NotificationScheduler

	// Events - публикатор доменных событий (опционально).
	Events shared.EventPublisher

	// Logger для структурированного логирования.
	Logger *slog.Logger

	// ID - идентификатор движка в событиях (по умолчанию uuid).
	ID string

	// MaxFailures - сколько последних ошибок хранить.
	MaxFailures int
}

// ══════════════════════════════════════════════════════════════════════════════
// FAILURES
// ══════════════════════════════════════════════════════════════════════════════

// FailureKind классифицирует ошибку побочного эффекта.
type FailureKind string

const (
	FailurePersistence     FailureKind = "persistence"
	FailureNotification    FailureKind = "notification"
	FailureCorruptSnapshot FailureKind = "corrupt_snapshot"
	FailureEvent           FailureKind = "event"
)

// Failure — записанная ошибка побочного эффекта.
type Failure struct {
	Kind FailureKind `json:"kind"`
	Op   string      `json:"op"`
	Err  error       `json:"-"`
	At   time.Time   `json:"at"`
}

// Message возвращает текст ошибки.
func (f Failure) Message() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Engine — конечный автомат сессии. Создаётся через New и внедряется
// туда, где нужен; глобального экземпляра нет.
type Engine struct {
	id        string
	durations timer.Durations
	clock     timeutil.Clock
	store     timer.SnapshotStore
	notifier  timer.NotificationScheduler
	events    shared.EventPublisher
	logger    *slog.Logger

	mu       sync.Mutex
	session  timer.Session
	handles  []timer.Handle
	hydrated bool

	subs   map[int]chan timer.View
	nextID int

	failures      []Failure
	maxFailures   int
	failureCounts map[FailureKind]int64
}

// New создаёт движок в состоянии idle с фокус-сегментом настроенной длины.
func New(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.Durations.Focus <= 0 || cfg.Durations.Break <= 0 {
		def := timer.DefaultDurations()
		if cfg.Durations.Focus <= 0 {
			cfg.Durations.Focus = def.Focus
		}
		if cfg.Durations.Break <= 0 {
			cfg.Durations.Break = def.Break
		}
	}

	return &Engine{
		id:            cfg.ID,
		durations:     cfg.Durations,
		clock:         cfg.Clock,
		store:         cfg.Store,
		notifier:      cfg.Notifier,
		events:        cfg.Events,
		logger:        cfg.Logger.With("component", "timer_engine", "engine_id", cfg.ID),
		session:       timer.NewIdleSession(timer.SessionTypeFocus, cfg.Durations.For(timer.SessionTypeFocus)),
		subs:          make(map[int]chan timer.View),
		maxFailures:   cfg.MaxFailures,
		failureCounts: make(map[FailureKind]int64),
	}
}

// ID возвращает идентификатор движка.
func (e *Engine) ID() string {
	return e.id
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITIONS
// ══════════════════════════════════════════════════════════════════════════════

// Start запускает сегмент из состояния idle.
// Пустой t означает заранее выбранный тип, totalSeconds == 0 - настроенную длину.
func (e *Engine) Start(ctx context.Context, t timer.SessionType, totalSeconds int, course *timer.CourseRef) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.State != timer.StateIdle {
		return e.invalid("Start", "cannot start: state is %s", e.session.State)
	}
	if t == "" {
		t = e.session.Type
	}
	if !t.IsValid() {
		return shared.WrapError("timer", "Start", shared.ErrUnknownType,
			fmt.Sprintf("unknown session type %q", t), nil)
	}
	if totalSeconds < 0 {
		return shared.WrapError("timer", "Start", shared.ErrInvalidDuration,
			fmt.Sprintf("total %d must not be negative", totalSeconds), nil)
	}
	if totalSeconds == 0 {
		totalSeconds = e.durations.For(t)
	}
	if totalSeconds <= 0 {
		return shared.WrapError("timer", "Start", shared.ErrInvalidDuration,
			fmt.Sprintf("configured %s duration is not positive", t), nil)
	}

	now := e.now()
	from := e.session.State
	e.session = timer.Session{
		State:                 timer.StateRunning,
		Type:                  t,
		TotalDurationSeconds:  totalSeconds,
		RemainingAtCheckpoint: totalSeconds,
		CheckpointTimestamp:   now,
	}
	if !course.IsZero() {
		c := *course
		e.session.Course = &c
	}

	e.logger.Info("session started",
		"session_type", t.String(),
		"total_seconds", totalSeconds,
	)

	e.reschedule(ctx)
	e.save(ctx, "Start")
	e.publishTransition(shared.EventSessionStarted, from, now)
	e.broadcast(now)
	return nil
}

// Pause замораживает оставшееся время.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.State != timer.StateRunning {
		return e.invalid("Pause", "cannot pause: state is %s", e.session.State)
	}

	now := e.now()
	if timer.ComputeRemaining(e.session, now) == 0 {
		// Сегмент уже истёк: пауза превращается в завершение.
		e.complete(ctx, now, false)
		return nil
	}

	e.session.Checkpoint(now)
	e.session.State = timer.StatePaused

	e.logger.Info("session paused", "remaining_seconds", e.session.RemainingAtCheckpoint)

	e.cancelHandles(ctx)
	e.save(ctx, "Pause")
	e.publishTransition(shared.EventSessionPaused, timer.StateRunning, now)
	e.broadcast(now)
	return nil
}

// Resume продолжает отсчёт с замороженного остатка.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.State != timer.StatePaused {
		return e.invalid("Resume", "cannot resume: state is %s", e.session.State)
	}

	now := e.now()
	e.session.State = timer.StateRunning
	e.session.CheckpointTimestamp = now

	e.logger.Info("session resumed", "remaining_seconds", e.session.RemainingAtCheckpoint)

	e.reschedule(ctx)
	e.save(ctx, "Resume")
	e.publishTransition(shared.EventSessionResumed, timer.StatePaused, now)
	e.broadcast(now)
	return nil
}

// Stop прерывает сегмент без завершения. Тип сохраняется, длина сбрасывается.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.State != timer.StateRunning && e.session.State != timer.StatePaused {
		return e.invalid("Stop", "cannot stop: state is %s", e.session.State)
	}

	now := e.now()
	from := e.session.State
	t := e.session.Type
	e.session = timer.NewIdleSession(t, e.durations.For(t))

	e.logger.Info("session stopped", "session_type", t.String())

	e.cancelHandles(ctx)
	e.clear(ctx, "Stop")
	e.publishTransition(shared.EventSessionStopped, from, now)
	e.broadcast(now)
	return nil
}

// Reset возвращает движок в idle с фокус-сегментом. Допустим из любого состояния.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	from := e.session.State
	e.session = timer.NewIdleSession(timer.SessionTypeFocus, e.durations.For(timer.SessionTypeFocus))

	e.logger.Info("session reset", "from", from.String())

	e.cancelHandles(ctx)
	e.clear(ctx, "Reset")
	e.publishTransition(shared.EventSessionReset, from, now)
	e.broadcast(now)
	return nil
}

// Tick проверяет завершение текущего сегмента и рассылает View подписчикам.
// Возвращает true, если сегмент завершился на этом тике.
func (e *Engine) Tick(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if e.session.State == timer.StateRunning && timer.ComputeRemaining(e.session, now) == 0 {
		e.complete(ctx, now, false)
		return true
	}
	e.broadcast(now)
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Background фиксирует контрольную точку перед уходом процесса в фон.
// Вне состояния running ничего не делает: paused уже сохранён при паузе.
func (e *Engine) Background(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.State != timer.StateRunning {
		return
	}

	now := e.now()
	e.session.Checkpoint(now)
	e.logger.Debug("background checkpoint",
		"remaining_seconds", e.session.RemainingAtCheckpoint,
		"checkpoint", now,
	)
	e.save(ctx, "Background")
}

// Foreground восстанавливает сессию после возврата процесса из фона.
func (e *Engine) Foreground(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.recover(ctx, "Foreground")
}

// Restore выполняет восстановление при старте процесса. Повторный вызов
// эквивалентен Foreground.
func (e *Engine) Restore(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.recover(ctx, "Restore")
}

// recover реализует путь восстановления. Вызывается под e.mu.
func (e *Engine) recover(ctx context.Context, op string) {
	loaded := e.load(ctx, op)
	now := e.now()

	if !e.hydrated {
		// ─────────────────────────────────────────────────────────────────
		// Первая гидрация: снимок авторитетен. Нет снимка - idle.
		// ─────────────────────────────────────────────────────────────────
		e.hydrated = true
		if loaded != nil && loaded.State != timer.StateIdle {
			e.session = loaded.Clone()
			// Напоминания прежнего сегмента этого процесса больше не нужны.
			e.cancelHandles(ctx)
			e.logger.Info("session recovered from snapshot",
				"op", op,
				"state", e.session.State.String(),
				"session_type", e.session.Type.String(),
				"remaining_seconds", e.session.RemainingAtCheckpoint,
			)
			e.publishTransition(shared.EventSessionRecovered, timer.StateIdle, now)
		}
	} else {
		// ─────────────────────────────────────────────────────────────────
		// Процесс жив: память авторитетна, расхождение чиним.
		// ─────────────────────────────────────────────────────────────────
		diverged := (loaded == nil && e.session.State != timer.StateIdle) ||
			(loaded != nil && !loaded.Equal(e.session))
		if diverged {
			e.logger.Warn("snapshot diverged from memory, repairing",
				"op", op,
				"state", e.session.State.String(),
			)
			if e.session.State == timer.StateIdle {
				e.clear(ctx, op)
			} else {
				e.save(ctx, op)
			}
		}
	}

	if e.session.State != timer.StateRunning {
		e.broadcast(now)
		return
	}

	if timer.ComputeRemaining(e.session, now) == 0 {
		e.complete(ctx, now, true)
		return
	}

	e.session.Checkpoint(now)
	e.save(ctx, op)
	e.reschedule(ctx)
	e.broadcast(now)
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION
// ══════════════════════════════════════════════════════════════════════════════

// complete завершает текущий сегмент. Вызывается под e.mu.
func (e *Engine) complete(ctx context.Context, now int64, retroactive bool) {
	finished := e.session.Clone()
	endedAt := timeutil.FromEpoch(finished.CheckpointTimestamp + int64(finished.RemainingAtCheckpoint))

	next := finished.Type.Opposite()
	e.session = timer.NewIdleSession(next, e.durations.For(next))
	e.session.Course = finished.Course

	e.logger.Info("session completed",
		"session_type", finished.Type.String(),
		"total_seconds", finished.TotalDurationSeconds,
		"retroactive", retroactive,
		"next", next.String(),
	)

	event := shared.NewSessionCompletedEvent(e.id, finished.Type.String(),
		finished.TotalDurationSeconds, "", "", endedAt)
	if !finished.Course.IsZero() {
		event.CourseID = finished.Course.ID
		event.CourseName = finished.Course.Name
	}
	if retroactive {
		event = event.AsRetroactive()
	}
	e.publish("Complete", event)

	e.clear(ctx, "Complete")
	e.cancelHandles(ctx)
	e.broadcast(now)
}

// ══════════════════════════════════════════════════════════════════════════════
// OBSERVATION
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot возвращает текущее представление сессии.
func (e *Engine) Snapshot() timer.View {
	e.mu.Lock()
	defer e.mu.Unlock()

	return timer.NewView(e.session, e.now())
}

// Session возвращает копию авторитетной сессии.
func (e *Engine) Session() timer.Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.session.Clone()
}

// Handles возвращает копию живых хэндлов уведомлений.
func (e *Engine) Handles() []timer.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]timer.Handle(nil), e.handles...)
}

// Subscribe регистрирует наблюдателя. Медленный наблюдатель пропускает
// обновления, движок его не ждёт. Возвращённая функция отписывает.
func (e *Engine) Subscribe(buffer int) (<-chan timer.View, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan timer.View, buffer)

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			if c, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(c)
			}
			e.mu.Unlock()
		})
	}
}

// Failures возвращает записанные ошибки побочных эффектов, от старых к новым.
func (e *Engine) Failures() []Failure {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]Failure(nil), e.failures...)
}

// FailureCount возвращает число ошибок данного вида с момента запуска,
// включая вытесненные из буфера.
func (e *Engine) FailureCount(kind FailureKind) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.failureCounts[kind]
}

// ══════════════════════════════════════════════════════════════════════════════
// SIDE EFFECTS (вызываются под e.mu, после фиксации перехода)
// ══════════════════════════════════════════════════════════════════════════════

func (e *Engine) now() int64 {
	return timeutil.Epoch(e.clock)
}

func (e *Engine) invalid(op, format string, args ...interface{}) error {
	return shared.WrapError("timer", op, shared.ErrInvalidTransition, fmt.Sprintf(format, args...), nil)
}

// detach отвязывает побочный эффект от отмены вызывающего: переход уже
// зафиксирован в памяти, и обрыв HTTP-запроса не должен терять снимок.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), SideEffectTimeout)
}

// reschedule отменяет все хэндлы и планирует напоминания для running.
func (e *Engine) reschedule(ctx context.Context) {
	e.cancelHandles(ctx)
	ctx, cancel := detach(ctx)
	defer cancel()
	if e.session.State != timer.StateRunning {
		return
	}

	remaining := timer.ComputeRemaining(e.session, e.now())
	if h, err := e.notifier.ScheduleCompletion(ctx, remaining, e.session.Type, e.session.Course); err != nil {
		e.record(FailureNotification, "ScheduleCompletion", err)
	} else if h != "" {
		e.handles = append(e.handles, h)
	}
	if h, err := e.notifier.ScheduleProgress(ctx, remaining, e.session.Type, e.session.Course); err != nil {
		e.record(FailureNotification, "ScheduleProgress", err)
	} else if h != "" {
		e.handles = append(e.handles, h)
	}
}

// cancelHandles отменяет все хэндлы. Хэндлы считаются недействительными
// даже при ошибке отмены.
func (e *Engine) cancelHandles(ctx context.Context) {
	if len(e.handles) == 0 {
		return
	}
	handles := e.handles
	e.handles = nil
	ctx, cancel := detach(ctx)
	defer cancel()
	if err := e.notifier.CancelAll(ctx, handles); err != nil {
		e.record(FailureNotification, "CancelAll", err)
	}
}

func (e *Engine) save(ctx context.Context, op string) {
	ctx, cancel := detach(ctx)
	defer cancel()
	if err := e.store.Save(ctx, e.session); err != nil {
		e.record(FailurePersistence, op, err)
	}
}

func (e *Engine) clear(ctx context.Context, op string) {
	ctx, cancel := detach(ctx)
	defer cancel()
	if err := e.store.Clear(ctx); err != nil {
		e.record(FailurePersistence, op, err)
	}
}

// load читает снимок. Ошибка и повреждённый снимок означают "снимка нет".
func (e *Engine) load(ctx context.Context, op string) *timer.Session {
	lctx, cancel := detach(ctx)
	s, err := e.store.Load(lctx)
	cancel()
	if err != nil {
		if shared.IsCorrupt(err) {
			e.record(FailureCorruptSnapshot, op, err)
			e.clear(ctx, op)
		} else {
			e.record(FailurePersistence, op, err)
		}
		return nil
	}
	if s == nil {
		return nil
	}
	if verr := s.ValidateAt(e.now()); verr != nil {
		e.record(FailureCorruptSnapshot, op, verr)
		return nil
	}
	return s
}

func (e *Engine) publishTransition(t shared.EventType, from timer.State, now int64) {
	e.publish(string(t), shared.NewSessionTransitionEvent(t, e.id,
		from.String(), e.session.State.String(), e.session.Type.String(),
		timer.ComputeRemaining(e.session, now), timeutil.FromEpoch(now)))
}

func (e *Engine) publish(op string, event shared.Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(event); err != nil {
		e.record(FailureEvent, op, err)
	}
}

// broadcast рассылает View без блокировки.
func (e *Engine) broadcast(now int64) {
	if len(e.subs) == 0 {
		return
	}
	view := timer.NewView(e.session, now)
	for _, ch := range e.subs {
		select {
		case ch <- view:
		default:
		}
	}
}

func (e *Engine) record(kind FailureKind, op string, err error) {
	e.logger.Warn("side effect failed", "kind", string(kind), "op", op, "error", err)

	e.failureCounts[kind]++
	e.failures = append(e.failures, Failure{Kind: kind, Op: op, Err: err, At: e.clock.Now()})
	if over := len(e.failures) - e.maxFailures; over > 0 {
		e.failures = append([]Failure(nil), e.failures[over:]...)
	}
}
