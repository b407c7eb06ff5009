// session.go — анонимная сессия владельца через cookie psid.
//
// Сессия нужна только для списка недавних загрузок: идентификатор
// владельца — случайный UUID в подписанном HS256 JWT. Невалидная
// или просроченная cookie молча заменяется новой, запрос при этом
// не отклоняется.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionCookieName — имя сессионной cookie.
const SessionCookieName = "psid"

// sessionTTL — срок жизни сессии.
const sessionTTL = 30 * 24 * time.Hour

// contextKey — приватный тип ключей контекста middleware.
type contextKey string

// ownerIDKey — ключ контекста с идентификатором владельца сессии.
const ownerIDKey contextKey = "owner_id"

// OwnerFromContext возвращает идентификатор владельца сессии.
// Пустая строка — middleware сессии не отработал.
func OwnerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ownerIDKey).(string); ok {
		return v
	}
	return ""
}

// Session возвращает middleware, гарантирующий каждому запросу
// идентификатор владельца: валидная cookie psid переиспользуется,
// иначе выпускается новая.
func Session(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	sessionLogger := logger.With(slog.String("component", "session"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ownerID := ""
			if cookie, err := r.Cookie(SessionCookieName); err == nil {
				ownerID = parseSessionToken(cookie.Value, secret)
			}

			if ownerID == "" {
				ownerID = uuid.New().String()
				token, err := newSessionToken(ownerID, secret)
				if err != nil {
					sessionLogger.Error("Ошибка выпуска сессионного токена",
						slog.String("error", err.Error()),
					)
				} else {
					http.SetCookie(w, &http.Cookie{
						Name:     SessionCookieName,
						Value:    token,
						Path:     "/",
						MaxAge:   int(sessionTTL.Seconds()),
						HttpOnly: true,
						SameSite: http.SameSiteLaxMode,
					})
				}
			}

			ctx := context.WithValue(r.Context(), ownerIDKey, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// newSessionToken подписывает HS256 JWT с идентификатором владельца в sub.
func newSessionToken(ownerID, secret string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   ownerID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
	})
	return token.SignedString([]byte(secret))
}

// parseSessionToken проверяет подпись и срок токена и возвращает sub.
// Любая невалидность — пустая строка, без ошибки.
func parseSessionToken(raw, secret string) string {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !token.Valid {
		return ""
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return ""
	}
	return claims.Subject
}
