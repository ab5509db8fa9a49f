// Package importer читает таблицу устройств из CSV или XLSX. Обязательные
// колонки SN, Name, Type, необязательная GroupId.
package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	ErrMissingColumns = errors.New("required columns SN, Name, Type not found")
	ErrUnsupported    = errors.New("only CSV and XLSX files are supported")
)

var required = []string{"SN", "Name", "Type"}

const groupColumn = "GroupId"

// Row: одна строка импорта, значения уже обрезаны.
type Row struct {
	SN      string
	Name    string
	Type    string
	GroupID string
}

// Load выбирает формат по расширению имени файла.
func Load(name string, r io.Reader) ([]Row, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return ReadCSV(r)
	case ".xlsx":
		return ReadXLSX(r)
	default:
		return nil, ErrUnsupported
	}
}

// ReadCSV читает CSV с заголовком. BOM в начале допускается.
func ReadCSV(r io.Reader) ([]Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}
	return fromRecords(records)
}

// ReadXLSX читает первый лист книги.
func ReadXLSX(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("xlsx: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrMissingColumns
		}
		sheet = sheets[0]
	}
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("xlsx: %w", err)
	}
	return fromRecords(records)
}

func fromRecords(records [][]string) ([]Row, error) {
	if len(records) == 0 {
		return nil, ErrMissingColumns
	}
	index := map[string]int{}
	for i, h := range records[0] {
		h = strings.TrimSpace(h)
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}
	for _, c := range required {
		if _, ok := index[c]; !ok {
			return nil, ErrMissingColumns
		}
	}
	groupIdx, hasGroup := index[groupColumn]

	get := func(rec []string, i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := Row{
			SN:   get(rec, index["SN"]),
			Name: get(rec, index["Name"]),
			Type: get(rec, index["Type"]),
		}
		if hasGroup {
			row.GroupID = get(rec, groupIdx)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
