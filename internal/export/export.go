// Package export пишет выгрузки устройств, пользователей и истории в CSV
// (UTF-8 с BOM, чтобы Excel правильно показывал кириллицу).
package export

import (
	"bytes"
	"encoding/csv"
	"io"
	"slices"
	"strconv"
	"time"

	"devbook/internal/models"
)

const bom = "\xef\xbb\xbf"

// Имена файлов, с которыми выгрузки отправляются в чат.
const (
	DevicesFilename = "devices_export.csv"
	UsersFilename   = "users_export.csv"
	LogsFilename    = "device_logs_export.csv"
)

var (
	devicesHeader = []string{"id", "name", "sn", "type", "status", "user_id", "booking_expiration"}
	usersHeader   = []string{"user_id", "first_name", "last_name", "username", "role", "status", "phone"}
	logsHeader    = []string{"timestamp", "device_sn", "action"}
)

func write(w io.Writer, header []string, rows [][]string) error {
	if _, err := io.WriteString(w, bom); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

func Devices(w io.Writer, devices []models.Device) error {
	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		var owner, exp string
		if d.OwnerID != nil {
			owner = strconv.FormatInt(*d.OwnerID, 10)
		}
		if d.Expiration != nil {
			exp = d.ExpiresAt().Format(time.RFC3339)
		}
		rows = append(rows, []string{
			strconv.FormatInt(d.ID, 10), d.Name, d.SN, d.Type, string(d.Status), owner, exp,
		})
	}
	return write(w, devicesHeader, rows)
}

func Users(w io.Writer, users []models.User) error {
	rows := make([][]string, 0, len(users))
	for _, u := range users {
		rows = append(rows, []string{
			strconv.FormatInt(u.UserID, 10), u.FirstName, u.LastName, u.Username,
			string(u.Role), string(u.Status), u.Phone,
		})
	}
	return write(w, usersHeader, rows)
}

// Logs: история по всем устройствам; серийные номера по алфавиту,
// записи внутри в порядке добавления.
func Logs(w io.Writer, history models.Logs) error {
	sns := make([]string, 0, len(history))
	for sn := range history {
		sns = append(sns, sn)
	}
	slices.Sort(sns)

	var rows [][]string
	for _, sn := range sns {
		for _, e := range history[sn] {
			rows = append(rows, []string{e.Timestamp, sn, e.Action})
		}
	}
	return write(w, logsHeader, rows)
}

// Bytes: удобная обёртка для отправки документом.
func Bytes(fn func(io.Writer) error) ([]byte, error) {
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
