// id.go — генерация коротких публичных идентификаторов.
package model

import (
	"crypto/rand"
)

// idAlphabet — URL-safe алфавит для публичных идентификаторов (62+2 символа).
const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

// PublicIDLength — длина публичного идентификатора файла.
const PublicIDLength = 10

// NewID генерирует случайный URL-safe идентификатор длиной n символов
// из криптографически стойкого источника. Уникальность гарантируется
// не генератором, а уникальным индексом репозитория (Insert возвращает
// ErrConflict при коллизии).
func NewID(n int) string {
	buf := make([]byte, n)
	// rand.Read из crypto/rand не возвращает ошибку начиная с Go 1.24
	_, _ = rand.Read(buf)
	for i := range buf {
		buf[i] = idAlphabet[int(buf[i])&63]
	}
	return string(buf)
}
