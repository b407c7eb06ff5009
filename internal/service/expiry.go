// Пакет service — бизнес-логика Pastry.
// expiry.go — разбор срока действия ссылки.
package service

import (
	"regexp"
	"strconv"
	"time"
)

// MaxExpiry — максимальный (и по умолчанию) срок жизни ссылки.
const MaxExpiry = 30 * 24 * time.Hour

// expiresInRe — формат поля expiresIn: число + единица (m, h, d).
var expiresInRe = regexp.MustCompile(`^(\d+)([mhd])$`)

// ParseExpiresIn вычисляет момент истечения ссылки по полю expiresIn.
// Пустое или нераспознанное значение трактуется как максимум (30 дней):
// загрузка не отклоняется из-за опечатки в сроке. Значение больше
// максимума ограничивается сверху.
func ParseExpiresIn(expiresIn string, now time.Time) time.Time {
	m := expiresInRe.FindStringSubmatch(expiresIn)
	if m == nil {
		return now.Add(MaxExpiry)
	}

	value, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		// Число не помещается в int64 — заведомо больше максимума.
		return now.Add(MaxExpiry)
	}

	var d time.Duration
	switch m[2] {
	case "m":
		d = time.Duration(value) * time.Minute
	case "h":
		d = time.Duration(value) * time.Hour
	case "d":
		d = time.Duration(value) * 24 * time.Hour
	}
	if d <= 0 || d > MaxExpiry {
		d = MaxExpiry
	}
	return now.Add(d)
}
