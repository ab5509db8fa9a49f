package registry

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"devbook/internal/models"
	"devbook/internal/storage"
)

// Search: поиск по подстроке в названии, типе и SN без учёта регистра.
func (r *Registry) Search(text string) ([]models.Device, error) {
	q := strings.ToUpper(strings.TrimSpace(text))
	if utf8.RuneCountInString(q) < 2 {
		return nil, ErrQueryTooShort
	}
	var out []models.Device
	r.store.View(func(v *storage.Snapshot) {
		for _, d := range v.Devices() {
			if strings.Contains(strings.ToUpper(d.Name), q) ||
				strings.Contains(strings.ToUpper(d.Type), q) ||
				strings.Contains(strings.ToUpper(d.SN), q) {
				out = append(out, d)
			}
		}
	})
	return out, nil
}

// FindByCode: точное совпадение SN, иначе частичное.
func (r *Registry) FindByCode(code string) []models.Device {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil
	}
	var exact, partial []models.Device
	r.store.View(func(v *storage.Snapshot) {
		for _, d := range v.Devices() {
			sn := strings.ToUpper(d.SN)
			switch {
			case sn == code:
				exact = append(exact, d)
			case strings.Contains(sn, code):
				partial = append(partial, d)
			}
		}
	})
	if len(exact) > 0 {
		return exact
	}
	return partial
}

var (
	serialPrefixed = []*regexp.Regexp{
		regexp.MustCompile(`(?i)SN[-:\s]+([A-Z0-9\-]{3,})`),
		regexp.MustCompile(`(?i)S/N[-:\s]+([A-Z0-9\-]{3,})`),
		regexp.MustCompile(`(?i)SERIAL[-:\s]+([A-Z0-9\-]{3,})`),
	}
	serialToken = regexp.MustCompile(`(?i)\b([A-Z0-9\-]{4,15})\b`)
)

// ExtractSerial достаёт серийный номер из произвольного текста (подпись,
// данные сканера): сначала по префиксам SN, S/N, SERIAL, иначе самый
// длинный токен из 4-15 символов, не состоящий из одних цифр.
func ExtractSerial(text string) (string, bool) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "", false
	}

	for _, re := range serialPrefixed {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		sn := strings.Trim(strings.ToUpper(m[1]), "-")
		if len(sn) >= 3 {
			return sn, true
		}
	}

	best := ""
	for _, m := range serialToken.FindAllStringSubmatch(text, -1) {
		tok := m[1]
		if onlyDigits(strings.ReplaceAll(tok, "-", "")) {
			continue
		}
		if len(tok) > len(best) {
			best = tok
		}
	}
	sn := strings.Trim(strings.ToUpper(best), "-")
	if len(sn) < 4 {
		return "", false
	}
	return sn, true
}

func onlyDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
