package bot

import (
	"fmt"
	"strings"

	"devbook/internal/models"
)

func mainMenu(admin bool) [][]string {
	kb := [][]string{
		{btnList, btnBook},
		{btnMine, btnScan},
	}
	if admin {
		kb = append(kb, []string{btnAdmin})
	}
	return kb
}

var (
	unregisteredMenu = [][]string{{"/register", "/help"}}
	backOnly         = [][]string{{btnBack}}

	adminMenu = [][]string{
		{btnDevices, btnUsers},
		{btnGroups},
		{btnBooked},
		{btnExpDevices, btnExpUsers},
		{btnExpLogs},
		{btnRegOn, btnRegOff},
		{btnImport},
		{btnBack},
	}
)

func adminButtons(registration bool) [][]Button {
	state := "Выкл"
	if registration {
		state = "Вкл"
	}
	return [][]Button{
		row(cb("📋 Управление устройствами", "manage_devices_admin")),
		row(cb("👥 Управление пользователями", "manage_users_admin")),
		row(cb("👥 Управление группами", "manage_groups_admin")),
		row(cb("🔒 Забронированные устройства", "view_booked_admin")),
		row(cb("📥 Экспорт устройств", "export_devices_admin"), cb("📥 Экспорт пользователей", "export_users_admin")),
		row(cb("📥 Экспорт логов", "export_logs_admin")),
		row(cb("🔄 Регистрация: "+state, "toggle_registration")),
		row(cb("📥 Импорт устройств", "import_devices_admin")),
	}
}

// releaseLabel: текст кнопки «Освободить …» в «Моих устройствах».
func releaseLabel(d models.Device) string {
	return fmt.Sprintf("%s%s (SN: %s)", releasePrefix, d.Name, d.SN)
}

// pickLabel: выбор устройства из нескольких найденных по коду.
func pickLabel(d models.Device) string {
	return fmt.Sprintf("📱 %s (SN: %s)%s%d", d.Name, d.SN, deviceIDMarker, d.ID)
}

// shorten обрезает подпись кнопки до n рун.
func shorten(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
