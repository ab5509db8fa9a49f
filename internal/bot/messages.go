package bot

import (
	"errors"
	"fmt"

	"devbook/internal/access"
	"devbook/internal/booking"
	"devbook/internal/importer"
	"devbook/internal/models"
	"devbook/internal/registry"
	"devbook/internal/storage"
)

// Тексты кнопок главного меню и админки.
const (
	btnBack        = "Назад"
	btnMainMenu    = "Главное меню"
	btnList        = "Список устройств"
	btnBook        = "Бронирование"
	btnMine        = "Мои устройства"
	btnScan        = "📷 Сканирование"
	btnAdmin       = "Администрирование"
	btnReleaseAll  = "Освободить все устройства"
	btnBooked      = "Просмотр забронированных устройств"
	btnDevices     = "Управление устройствами"
	btnUsers       = "Управление пользователями"
	btnGroups      = "Управление группами"
	btnImport      = "Импортировать устройства"
	btnRegOn       = "Включить регистрацию"
	btnRegOff      = "Выключить регистрацию"
	btnExpDevices  = "Экспорт устройств CSV"
	btnExpUsers    = "Экспорт пользователей CSV"
	btnExpLogs     = "Экспорт логов CSV"
	releasePrefix  = "Освободить "
	deviceIDMarker = " - ID "
)

const (
	dateLayout      = "02.01.2006 15:04"
	msgHelp         = "Команды:\n/start - Главное меню\n/help - Справка\n/register - Отправить заявку на регистрацию\n/set_name Имя Фамилия - Установить отображаемое имя\n\nОсновные кнопки в меню зависят от вашей роли."
	msgUnregistered = "Ваш Telegram ID: %d\nВы не зарегистрированы. Используйте /register для отправки заявки или /help для справки."
	msgMainMenu     = "Главное меню (ваш ID: %d):\n\n💡 Вы также можете ввести текст для поиска устройств\n(модель, название, тип, серийный номер)"
	msgUnknown      = "Неизвестная команда/сообщение. Используйте кнопки или /help."
	msgBadCallback  = "Ошибка: некорректный формат команды."
	msgCancelled    = "Действие отменено."
	msgPickRegGroup = "Пожалуйста, выберите группу, используя кнопки под предыдущим сообщением.\nОтправьте /start для отмены регистрации."
	msgNoGroupsYet  = "(группы не созданы)"
	msgNoGroup      = "Без группы"
	msgInternal     = "⚠️ Внутренняя ошибка. Попробуйте позже."
	msgPersist      = "⚠️ Не удалось сохранить данные. Попробуйте позже."
)

// errorText переводит ошибку домена в сообщение пользователю.
func errorText(err error) string {
	var (
		status  *access.WrongStatusError
		role    *access.WrongRoleError
		denied  *access.DeniedError
		limit   *booking.LimitError
		format  *registry.FormatError
		invalid *registry.ValidationError
	)
	switch {
	case errors.Is(err, access.ErrNotRegistered):
		return "Вы не зарегистрированы. Используйте /register для отправки заявки."
	case errors.As(err, &status):
		return fmt.Sprintf("Ваш статус: %s. Доступ разрешён только для пользователей со статусом: %s.",
			status.Status, status.Required)
	case errors.As(err, &role):
		return fmt.Sprintf("Доступ к этой функции разрешён только для пользователей с ролью: %s.", role.Required)
	case errors.As(err, &denied):
		return deniedText(denied)
	case errors.As(err, &limit):
		if limit.Other {
			return fmt.Sprintf("❌ Новый владелец уже имеет максимальное количество устройств (%d).", limit.Max)
		}
		return fmt.Sprintf("❌ Нельзя забронировать больше %d устройств одновременно.", limit.Max)

	case errors.Is(err, booking.ErrAlreadyBooked):
		return "❌ Устройство уже забронировано или не найдено."
	case errors.Is(err, booking.ErrDeviceNotFound), errors.Is(err, registry.ErrDeviceNotFound):
		return "❌ Устройство не найдено."
	case errors.Is(err, booking.ErrNotBooked):
		return "❌ Устройство не найдено или уже освобождено."
	case errors.Is(err, booking.ErrNotOwner):
		return "❌ Устройство не найдено среди ваших бронирований."
	case errors.Is(err, booking.ErrSelfTransfer):
		return "❌ Это устройство уже забронировано вами."
	case errors.Is(err, booking.ErrTransferNotFound):
		return "❌ Запрос на передачу не найден или устарел."
	case errors.Is(err, booking.ErrUserInactive):
		return "❌ Пользователь не найден или не активен."
	case errors.Is(err, booking.ErrUserNotFound), errors.Is(err, registry.ErrUserNotFound):
		return "Пользователь не найден."

	case errors.Is(err, registry.ErrRegistrationDisabled):
		return "Регистрация временно отключена."
	case errors.Is(err, registry.ErrAlreadyRegistered):
		return "Вы уже зарегистрированы или ваша заявка ожидает рассмотрения."
	case errors.Is(err, registry.ErrNoGroups):
		return "❌ Нет доступных групп. Сначала создайте группу в разделе 'Управление группами'."
	case errors.Is(err, registry.ErrUserExists):
		return "Пользователь с таким ID уже существует."
	case errors.Is(err, registry.ErrGroupNotFound):
		return "Группа не найдена. Введите корректный ID."
	case errors.Is(err, registry.ErrGroupExists):
		return "Группа с таким названием уже существует."
	case errors.Is(err, registry.ErrDuplicateSN):
		return "❌ Устройство с таким серийным номером уже есть."
	case errors.Is(err, registry.ErrQueryTooShort):
		return "Введите минимум 2 символа для поиска."
	case errors.As(err, &format):
		return "Неверный формат. Используйте: " + format.Expected
	case errors.As(err, &invalid):
		return fmt.Sprintf("Неверное значение (%s): %s.", invalid.Field, invalid.Reason)

	case errors.Is(err, importer.ErrMissingColumns):
		return "Ошибка импорта: нужны колонки SN, Name, Type."
	case errors.Is(err, importer.ErrUnsupported):
		return "Ошибка импорта: поддерживаются только CSV и XLSX."

	case errors.Is(err, storage.ErrPersist):
		return msgPersist
	}
	return msgInternal
}

func deniedText(e *access.DeniedError) string {
	switch e.Reason {
	case access.NoUserGroup:
		return "❌ У вас не назначена группа. Обратитесь к администратору."
	case access.NoDeviceGroup:
		return "❌ Устройство не назначено ни в какую группу."
	}
	return fmt.Sprintf("❌ Вы не можете бронировать устройства из группы '%s'. Ваша группа: '%s'.",
		e.DeviceGroup, e.UserGroup)
}

// internalErr: ошибки, которые стоит писать в лог с уровнем error.
func internalErr(err error) bool {
	return errorText(err) == msgInternal || errors.Is(err, storage.ErrPersist)
}

func statusEmoji(d models.Device) string {
	if d.IsBooked() {
		return "🔒"
	}
	return "✅"
}

func statusLabel(d models.Device) string {
	if d.IsBooked() {
		return "Забронировано"
	}
	return "Свободно"
}

func deviceCard(d models.Device) string {
	return fmt.Sprintf("📱 %s\n🔢 SN: %s\n📦 Тип: %s\n🆔 ID: %d\n\n", d.Name, d.SN, d.Type, d.ID)
}

func formatUntil(d models.Device) string {
	if !d.IsBooked() {
		return "Не указано"
	}
	return d.ExpiresAt().Format(dateLayout)
}
