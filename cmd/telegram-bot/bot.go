package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"

	"todo-sync/internal/logger"
	"todo-sync/internal/manager"
	"todo-sync/internal/models"
	"todo-sync/internal/view"
)

const (
	defaultType = "Общее"
	readyWait   = 5 * time.Second
	// refLen is how much of a task id /list shows; minRefLen is the shortest tail
	// /done and /delete accept.
	refLen    = 6
	minRefLen = 4
)

type Bot struct {
	api   *tgbotapi.BotAPI
	users *manager.UserManager
	// idle is how long a chat's session stays open without messages; 0 keeps it forever.
	idle time.Duration
}

func NewBot(token string, debug bool, idle time.Duration, users *manager.UserManager) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания бота: %w", err)
	}
	api.Debug = debug
	logger.Info(context.Background(), "Авторизован", "bot", api.Self.UserName)

	return &Bot{api: api, users: users, idle: idle}, nil
}

// Start polls for updates until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates, err := b.api.GetUpdatesChan(u)
	if err != nil {
		return fmt.Errorf("ошибка получения updates: %w", err)
	}
	logger.Info(ctx, "Бот запущен и слушает сообщения...")
	if b.idle > 0 {
		go b.evictIdle(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			go b.handleMessage(ctx, update.Message)
		}
	}
}

// evictIdle closes the sessions of chats that went quiet.
func (b *Bot) evictIdle(ctx context.Context) {
	every := b.idle / 2
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.users.EvictIdle(b.idle); n > 0 {
				logger.Info(ctx, "Закрыты неактивные сессии", "count", n, "open", b.users.Active())
			}
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	ctx = logger.WithFields(ctx, "chat", msg.Chat.ID, "user", msg.From.UserName)
	logger.Info(ctx, "Получено сообщение", "text", msg.Text)

	s, err := b.users.GetOrCreateUserByTelegramID(ctx, int64(msg.From.ID), displayName(msg.From))
	if err != nil {
		logger.Error(ctx, err, "Не удалось открыть сессию")
		b.sendMessage(msg.Chat.ID, "❌ Сервис временно недоступен, попробуйте позже")
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, readyWait)
	defer cancel()
	if err := s.Cache.WaitReady(waitCtx); err != nil {
		logger.Warn(ctx, "Список задач ещё не загружен", "error", err)
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, s, msg)
		return
	}
	// обычный текст становится задачей
	if strings.TrimSpace(msg.Text) != "" {
		b.addTaskFromText(ctx, s, msg.Chat.ID, msg.Text)
	}
}

func (b *Bot) handleCommand(ctx context.Context, s *manager.Session, msg *tgbotapi.Message) {
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start", "help":
		b.sendMessage(chatID, helpText)
	case "add":
		if args == "" {
			b.sendMessage(chatID, "Укажите задачу после команды: /add Купить молоко #покупки @18:00")
			return
		}
		b.addTaskFromText(ctx, s, chatID, args)
	case "list":
		b.listTasks(s, chatID, "", view.Selector(args))
	case "find":
		b.listTasks(s, chatID, args, view.All)
	case "types":
		b.listTypes(s, chatID)
	case "done":
		b.setCompletion(ctx, s, chatID, args, true)
	case "undo":
		b.setCompletion(ctx, s, chatID, args, false)
	case "delete":
		b.deleteTask(ctx, s, chatID, args)
	case "logout":
		b.users.SignOut(s.UserID)
		logger.Info(ctx, "Сессия закрыта пользователем")
		b.sendMessage(chatID, "👋 Сессия закрыта. Напишите что-нибудь, чтобы продолжить.")
	default:
		b.sendMessage(chatID, "Неизвестная команда. Используйте /help для списка команд.")
	}
}

func (b *Bot) addTaskFromText(ctx context.Context, s *manager.Session, chatID int64, text string) {
	d := parseDraft(text, time.Now())
	if _, err := s.Mutator.CreateTask(ctx, d); err != nil {
		b.sendMessage(chatID, "❌ Ошибка: "+describe(err))
		return
	}
	b.sendMessage(chatID, fmt.Sprintf("✅ *Задача добавлена!*\n\nЗадача: %s\nТип: %s\nВремя: %s", d.TaskName, d.Type, d.Time))
}

func (b *Bot) listTasks(s *manager.Session, chatID int64, search string, sel view.Selector) {
	tasks := s.View(search, sel)
	if len(tasks) == 0 {
		b.sendMessage(chatID, "📭 Список задач пуст")
		return
	}
	b.sendMessage(chatID, formatTasks(tasks))
}

func (b *Bot) listTypes(s *manager.Session, chatID int64) {
	var sb strings.Builder
	sb.WriteString("🗂 *Фильтры:*\n\n")
	for _, tab := range view.Tabs(s.Cache.DerivedTypes()) {
		sb.WriteString(fmt.Sprintf("/list %s\n", tab))
	}
	b.sendMessage(chatID, sb.String())
}

func (b *Bot) setCompletion(ctx context.Context, s *manager.Session, chatID int64, arg string, value bool) {
	task, ok := resolveTask(s.Cache.CurrentTasks(), arg)
	if !ok {
		b.sendMessage(chatID, "Укажите код задачи из /list, например: /done 7XKQ2M")
		return
	}
	if err := s.Mutator.SetCompletion(ctx, task.ID, value); err != nil {
		b.sendMessage(chatID, "❌ Ошибка: "+describe(err))
		return
	}
	if value {
		b.sendMessage(chatID, fmt.Sprintf("✅ Задача «%s» отмечена выполненной!", task.TaskName))
	} else {
		b.sendMessage(chatID, fmt.Sprintf("🔄 Задача «%s» снова в работе", task.TaskName))
	}
}

func (b *Bot) deleteTask(ctx context.Context, s *manager.Session, chatID int64, arg string) {
	task, ok := resolveTask(s.Cache.CurrentTasks(), arg)
	if !ok {
		b.sendMessage(chatID, "Укажите код задачи из /list, например: /delete 7XKQ2M")
		return
	}
	if err := s.Mutator.DeleteTask(ctx, task.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
		b.sendMessage(chatID, "❌ Ошибка: "+describe(err))
		return
	}
	b.sendMessage(chatID, fmt.Sprintf("🗑️ Задача «%s» удалена!", task.TaskName))
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"

	if _, err := b.api.Send(msg); err != nil {
		logger.Error(context.Background(), err, "Ошибка отправки сообщения", "chat", chatID)
	}
}

const helpText = `🤖 *Помощь по командам*

*/add [задача] #тип @время* - Добавить задачу
*/list [фильтр]* - Показать задачи (All, Done, Pending или тип)
*/find [текст]* - Найти задачи по названию
*/types* - Показать фильтры
*/done [код]* - Отметить задачу выполненной
*/undo [код]* - Вернуть задачу в работу
*/delete [код]* - Удалить задачу
*/logout* - Закрыть сессию
*/help* - Показать эту справку

*Примеры:*
/add Купить молоко #покупки @18:00
/list Pending
/done 7XKQ2M`

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.UserName
	}
	return name
}

// parseDraft reads "name #type @time". Without a tag the type is defaultType;
// without a time the current time is used.
func parseDraft(text string, now time.Time) models.Draft {
	d := models.Draft{Type: defaultType, Time: now.Format("03:04 PM")}

	var name []string
	for _, word := range strings.Fields(text) {
		switch {
		case strings.HasPrefix(word, "#") && len(word) > 1:
			d.Type = strings.TrimPrefix(word, "#")
		case strings.HasPrefix(word, "@") && len(word) > 1:
			d.Time = strings.TrimPrefix(word, "@")
		default:
			name = append(name, word)
		}
	}
	d.TaskName = strings.Join(name, " ")
	return d
}

// resolveTask accepts a task id or a unique tail of one, as shown by /list.
func resolveTask(tasks []models.Task, arg string) (models.Task, bool) {
	arg = strings.TrimSpace(arg)
	if len(arg) < minRefLen {
		return models.Task{}, false
	}
	var (
		found models.Task
		n     int
	)
	for _, t := range tasks {
		if t.ID == arg {
			return t, true
		}
		if strings.HasSuffix(t.ID, arg) {
			found = t
			n++
		}
	}
	return found, n == 1
}

// shortRef is the tail of a task id shown in lists.
func shortRef(id string) string {
	if len(id) <= refLen {
		return id
	}
	return id[len(id)-refLen:]
}

func formatTasks(tasks []models.Task) string {
	var sb strings.Builder
	sb.WriteString("📋 *Ваши задачи:*\n\n")
	for _, t := range tasks {
		status := "🟢"
		if t.Check {
			status = "✅"
		}
		sb.WriteString(fmt.Sprintf("%s `%s` %s (%s, %s)\n", status, shortRef(t.ID), t.TaskName, t.Type, t.Time))
	}
	return sb.String()
}

func describe(err error) string {
	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		return fmt.Sprintf("не заполнено поле %s", ve.Field)
	case errors.Is(err, models.ErrNotFound):
		return "задача не найдена"
	case errors.Is(err, models.ErrUnauthenticated):
		return "нужно войти заново"
	}
	return "сервис недоступен"
}
