package storage

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"devbook/internal/logs"
	"devbook/internal/metrics"
	"devbook/internal/models"
)

// Имена файлов в data dir, те же, что у исходного бота.
const (
	SettingsFile = "config.json"
	DevicesFile  = "devices.json"
	UsersFile    = "users.json"
	LogsFile     = "device_logs.json"
	GroupsFile   = "groups.json"
)

// ErrPersist: запись на диск не удалась; изменения этой коллекции не приняты.
var ErrPersist = errors.New("persist failed")

// Collection: битовая маска коллекций, изменённых в транзакции.
type Collection uint8

const (
	Settings Collection = 1 << iota
	Devices
	Users
	Groups
	Logs
)

// LoggedAction: запись истории, попавшая в device_logs.json.
type LoggedAction struct {
	SN    string
	At    time.Time
	Entry models.LogEntry
}

// Store владеет всеми коллекциями. Одна блокировка на весь store: при таком
// объёме данных она же сериализует check-and-set бронирования и записи файлов.
type Store struct {
	dir string

	mu   sync.Mutex
	data collections

	hookMu sync.RWMutex
	onLogs []func([]LoggedAction)
}

// Open: load_all: читает все файлы из dir, отсутствующие дают пустые
// коллекции и настройки по умолчанию.
func Open(dir string) (*Store, error) {
	s := &Store{dir: dir}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir: каталог с данными.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

func (s *Store) load() error {
	log := logs.Logger.WithField("component", "storage")

	settings := models.DefaultSettings()
	if err := s.loadOne(SettingsFile, &settings, log); err != nil {
		return err
	}
	if settings.AdminIDs == nil {
		settings.AdminIDs = []int64{}
	}

	var devices []models.Device
	if err := s.loadOne(DevicesFile, &devices, log); err != nil {
		return err
	}
	for i := range devices {
		devices[i].Normalize()
	}

	var users []models.User
	if err := s.loadOne(UsersFile, &users, log); err != nil {
		return err
	}

	var groups []models.Group
	if err := s.loadOne(GroupsFile, &groups, log); err != nil {
		return err
	}

	history := models.Logs{}
	if err := s.loadOne(LogsFile, &history, log); err != nil {
		return err
	}
	if history == nil {
		history = models.Logs{}
	}

	s.mu.Lock()
	s.data = collections{
		settings: settings,
		devices:  nonNil(devices),
		users:    nonNil(users),
		groups:   nonNil(groups),
		logs:     history,
	}
	s.mu.Unlock()

	log.WithFields(logrus.Fields{
		"devices": len(devices),
		"users":   len(users),
		"groups":  len(groups),
	}).Info("data loaded")
	return nil
}

func (s *Store) loadOne(name string, v any, log *logrus.Entry) error {
	found, wrongShape, err := readJSON(s.path(name), v)
	if err != nil {
		return err
	}
	if !found {
		log.WithField("file", name).Debug("file not found, using defaults")
	}
	if wrongShape {
		log.WithField("file", name).Warn("unexpected top-level JSON type, starting empty")
	}
	return nil
}

// OnLogs регистрирует обработчик новых записей истории. Вызывается после
// успешной записи device_logs.json, вне блокировки store.
func (s *Store) OnLogs(fn func([]LoggedAction)) {
	s.hookMu.Lock()
	s.onLogs = append(s.onLogs, fn)
	s.hookMu.Unlock()
}

// View даёт доступ на чтение под блокировкой. Snapshot нельзя сохранять
// после возврата из fn.
func (s *Store) View(fn func(v *Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&Snapshot{collections: &s.data})
}

// Update выполняет fn над копией коллекций. Если fn вернула nil, изменённые
// коллекции записываются на диск и только после успешной записи заменяют
// данные в памяти. Ошибка fn откатывает всё.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()

	tx := &Tx{collections: s.data.clone()}
	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return err
	}

	committed, err := s.persist(tx)
	s.mu.Unlock()

	if committed&Logs != 0 && len(tx.appended) > 0 {
		s.fireLogs(tx.appended)
	}
	return err
}

// persist пишет изменённые коллекции и переносит в память те, что записаны.
// Сбой записи истории после успешной записи данных не ошибка транзакции.
// Вызывается под s.mu.
func (s *Store) persist(tx *Tx) (Collection, error) {
	steps := []struct {
		c      Collection
		file   string
		value  func() any
		commit func()
	}{
		{Settings, SettingsFile, func() any { return tx.settings }, func() { s.data.settings = tx.settings }},
		{Groups, GroupsFile, func() any { return tx.groups }, func() { s.data.groups = tx.groups }},
		{Users, UsersFile, func() any { return tx.users }, func() { s.data.users = tx.users }},
		{Devices, DevicesFile, func() any { return tx.devices }, func() { s.data.devices = tx.devices }},
		{Logs, LogsFile, func() any { return tx.logs }, func() { s.data.logs = tx.logs }},
	}

	var committed Collection
	for _, st := range steps {
		if tx.dirty&st.c == 0 {
			continue
		}
		if err := writeJSON(s.path(st.file), st.value()); err != nil {
			entry := logs.Logger.WithFields(logrus.Fields{
				"component": "storage",
				"file":      st.file,
			}).WithError(err)
			metrics.PersistErrorsTotal.Inc()
			if st.c == Logs && committed != 0 {
				// состояние уже на диске, операция состоялась; история
				// остаётся в памяти и уйдёт в файл со следующей записью
				entry.Warn("history save failed, kept in memory")
				st.commit()
				committed |= st.c
				continue
			}
			entry.Error("save failed")
			return committed, fmt.Errorf("%w: %s: %v", ErrPersist, st.file, err)
		}
		st.commit()
		committed |= st.c
	}
	return committed, nil
}

func (s *Store) fireLogs(actions []LoggedAction) {
	s.hookMu.RLock()
	hooks := slices.Clone(s.onLogs)
	s.hookMu.RUnlock()
	for _, h := range hooks {
		h(actions)
	}
}

// collections: общие данные и поисковые helper'ы для Snapshot и Tx.
type collections struct {
	settings models.Settings
	devices  []models.Device
	users    []models.User
	groups   []models.Group
	logs     models.Logs
}

func (c *collections) clone() collections {
	return collections{
		settings: c.settings.Clone(),
		devices:  slices.Clone(c.devices),
		users:    slices.Clone(c.users),
		groups:   slices.Clone(c.groups),
		logs:     maps.Clone(c.logs),
	}
}

func (c *collections) Settings() models.Settings { return c.settings }
func (c *collections) Devices() []models.Device  { return c.devices }
func (c *collections) Users() []models.User      { return c.users }
func (c *collections) Groups() []models.Group    { return c.groups }
func (c *collections) Logs() models.Logs         { return c.logs }

// Device ищет устройство по id.
func (c *collections) Device(id int64) *models.Device {
	for i := range c.devices {
		if c.devices[i].ID == id {
			return &c.devices[i]
		}
	}
	return nil
}

// DeviceBySN ищет устройство по серийному номеру (точное совпадение).
func (c *collections) DeviceBySN(sn string) *models.Device {
	for i := range c.devices {
		if c.devices[i].SN == sn {
			return &c.devices[i]
		}
	}
	return nil
}

func (c *collections) User(id int64) *models.User {
	for i := range c.users {
		if c.users[i].UserID == id {
			return &c.users[i]
		}
	}
	return nil
}

func (c *collections) Group(id int64) *models.Group {
	for i := range c.groups {
		if c.groups[i].ID == id {
			return &c.groups[i]
		}
	}
	return nil
}

func (c *collections) GroupByName(name string) *models.Group {
	for i := range c.groups {
		if c.groups[i].Name == name {
			return &c.groups[i]
		}
	}
	return nil
}

// GroupOf возвращает группу по указателю на id (nil, если её нет).
func (c *collections) GroupOf(id *int64) *models.Group {
	if id == nil {
		return nil
	}
	return c.Group(*id)
}

// BookedBy: устройства, забронированные пользователем.
func (c *collections) BookedBy(userID int64) []models.Device {
	var out []models.Device
	for _, d := range c.devices {
		if d.BookedBy(userID) {
			out = append(out, d)
		}
	}
	return out
}

// UserName: имя пользователя для сообщений.
func (c *collections) UserName(id int64) string {
	return c.User(id).FullName()
}

// Snapshot: только чтение.
type Snapshot struct {
	*collections
}

// Tx: изменяемая копия коллекций внутри Store.Update. Поля-указатели
// моделей не меняются по месту, только переприсваиваются.
type Tx struct {
	collections
	dirty    Collection
	appended []LoggedAction
}

// Touch помечает коллекции изменёнными.
func (tx *Tx) Touch(c ...Collection) {
	for _, x := range c {
		tx.dirty |= x
	}
}

// SetSettings заменяет настройки.
func (tx *Tx) SetSettings(s models.Settings) {
	tx.settings = s
	tx.Touch(Settings)
}

func (tx *Tx) NextDeviceID() int64 {
	var max int64
	for _, d := range tx.devices {
		if d.ID > max {
			max = d.ID
		}
	}
	return max + 1
}

func (tx *Tx) NextGroupID() int64 {
	var max int64
	for _, g := range tx.groups {
		if g.ID > max {
			max = g.ID
		}
	}
	return max + 1
}

func (tx *Tx) NextUserID() int64 {
	var max int64
	for _, u := range tx.users {
		if u.UserID > max {
			max = u.UserID
		}
	}
	return max + 1
}

func (tx *Tx) AddDevice(d models.Device) {
	tx.devices = append(tx.devices, d)
	tx.Touch(Devices)
}

// RemoveDevice удаляет устройство; история по его SN остаётся.
func (tx *Tx) RemoveDevice(id int64) bool {
	n := len(tx.devices)
	tx.devices = slices.DeleteFunc(tx.devices, func(d models.Device) bool { return d.ID == id })
	if len(tx.devices) == n {
		return false
	}
	tx.Touch(Devices)
	return true
}

func (tx *Tx) AddUser(u models.User) {
	tx.users = append(tx.users, u)
	tx.Touch(Users)
}

func (tx *Tx) RemoveUser(id int64) bool {
	n := len(tx.users)
	tx.users = slices.DeleteFunc(tx.users, func(u models.User) bool { return u.UserID == id })
	if len(tx.users) == n {
		return false
	}
	tx.Touch(Users)
	return true
}

func (tx *Tx) AddGroup(g models.Group) {
	tx.groups = append(tx.groups, g)
	tx.Touch(Groups)
}

func (tx *Tx) RemoveGroup(id int64) bool {
	n := len(tx.groups)
	tx.groups = slices.DeleteFunc(tx.groups, func(g models.Group) bool { return g.ID == id })
	if len(tx.groups) == n {
		return false
	}
	tx.Touch(Groups)
	return true
}

// AppendLog добавляет запись в историю устройства. Срез копируется,
// чтобы не задеть данные, которые видят читатели до коммита.
func (tx *Tx) AppendLog(sn, action string, at time.Time) {
	e := models.NewLogEntry(at, action)
	tx.logs[sn] = append(slices.Clip(tx.logs[sn]), e)
	tx.appended = append(tx.appended, LoggedAction{SN: sn, At: at, Entry: e})
	tx.Touch(Logs)
}

// MutableDevices: прямой доступ к срезу устройств транзакции (для массовых
// операций). Вызывающий сам помечает Touch(Devices).
func (tx *Tx) MutableDevices() []models.Device { return tx.devices }

// MutableUsers: то же для пользователей.
func (tx *Tx) MutableUsers() []models.User { return tx.users }

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
