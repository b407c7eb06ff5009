// Пакет access — чистая функция принятия решения о доступе к файлу.
//
// Evaluate не выполняет I/O и не мутирует запись: по записи, текущему
// времени и опционально предъявленному паролю возвращает одно решение.
// Порядок проверок фиксирован: существование → срок действия →
// исчерпание лимита → пароль. Вызывающий код обязан трактовать
// решение как предварительное: финальную защиту от гонки лимита
// обеспечивает условный инкремент на уровне репозитория.
package access

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bigkaa/pastry/internal/domain/model"
)

// Decision — решение о доступе к файлу.
type Decision int

const (
	// DecisionAllow — скачивание разрешено
	DecisionAllow Decision = iota
	// DecisionNotFound — запись не существует
	DecisionNotFound
	// DecisionExpired — срок действия ссылки истёк
	DecisionExpired
	// DecisionLimitReached — лимит скачиваний исчерпан
	DecisionLimitReached
	// DecisionPasswordRequired — файл защищён паролем, пароль не предъявлен
	DecisionPasswordRequired
	// DecisionInvalidPassword — предъявленный пароль не совпадает
	DecisionInvalidPassword
)

// String возвращает строковое представление решения для логов.
func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionNotFound:
		return "not_found"
	case DecisionExpired:
		return "expired"
	case DecisionLimitReached:
		return "limit_reached"
	case DecisionPasswordRequired:
		return "password_required"
	case DecisionInvalidPassword:
		return "invalid_password"
	default:
		return "unknown"
	}
}

// Evaluate принимает решение о доступе к записи rec на момент now.
// password == nil означает, что пароль не предъявлен.
func Evaluate(rec *model.FileRecord, now time.Time, password *string) Decision {
	if rec == nil {
		return DecisionNotFound
	}
	if rec.IsExpired(now) {
		return DecisionExpired
	}
	if rec.IsExhausted() {
		return DecisionLimitReached
	}
	if rec.RequiresPassword() {
		if password == nil {
			return DecisionPasswordRequired
		}
		if bcrypt.CompareHashAndPassword([]byte(*rec.PasswordHash), []byte(*password)) != nil {
			return DecisionInvalidPassword
		}
	}
	return DecisionAllow
}

// HashPassword хэширует пароль скачивания bcrypt'ом (cost 10).
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 10)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
