package access

import (
	"testing"
	"time"

	"github.com/bigkaa/pastry/internal/domain/model"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func TestEvaluate_NilRecord(t *testing.T) {
	if d := Evaluate(nil, time.Now(), nil); d != DecisionNotFound {
		t.Errorf("ожидалось not_found, получено %s", d)
	}
}

func TestEvaluate_Allow(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	rec := &model.FileRecord{ID: "abc", ExpiresAt: &exp}

	if d := Evaluate(rec, time.Now(), nil); d != DecisionAllow {
		t.Errorf("ожидалось allow, получено %s", d)
	}
}

func TestEvaluate_Expired(t *testing.T) {
	exp := time.Now().Add(-time.Minute)
	rec := &model.FileRecord{ID: "abc", ExpiresAt: &exp}

	if d := Evaluate(rec, time.Now(), nil); d != DecisionExpired {
		t.Errorf("ожидалось expired, получено %s", d)
	}
}

func TestEvaluate_ExpiredBeforePassword(t *testing.T) {
	// Порядок проверок фиксирован: срок раньше пароля
	exp := time.Now().Add(-time.Minute)
	hash, _ := HashPassword("секрет")
	rec := &model.FileRecord{ID: "abc", ExpiresAt: &exp, PasswordHash: &hash}

	if d := Evaluate(rec, time.Now(), strPtr("неверный")); d != DecisionExpired {
		t.Errorf("ожидалось expired, получено %s", d)
	}
}

func TestEvaluate_LimitReached(t *testing.T) {
	rec := &model.FileRecord{ID: "abc", MaxDownloads: intPtr(3), DownloadCount: 3}

	if d := Evaluate(rec, time.Now(), nil); d != DecisionLimitReached {
		t.Errorf("ожидалось limit_reached, получено %s", d)
	}
}

func TestEvaluate_LimitNotReached(t *testing.T) {
	rec := &model.FileRecord{ID: "abc", MaxDownloads: intPtr(3), DownloadCount: 2}

	if d := Evaluate(rec, time.Now(), nil); d != DecisionAllow {
		t.Errorf("ожидалось allow, получено %s", d)
	}
}

func TestEvaluate_PasswordFlow(t *testing.T) {
	hash, err := HashPassword("секрет")
	if err != nil {
		t.Fatalf("неожиданная ошибка хэширования: %v", err)
	}
	rec := &model.FileRecord{ID: "abc", PasswordHash: &hash}

	if d := Evaluate(rec, time.Now(), nil); d != DecisionPasswordRequired {
		t.Errorf("без пароля: ожидалось password_required, получено %s", d)
	}
	if d := Evaluate(rec, time.Now(), strPtr("неверный")); d != DecisionInvalidPassword {
		t.Errorf("неверный пароль: ожидалось invalid_password, получено %s", d)
	}
	if d := Evaluate(rec, time.Now(), strPtr("секрет")); d != DecisionAllow {
		t.Errorf("верный пароль: ожидалось allow, получено %s", d)
	}
}

func TestEvaluate_NoExpiryNoLimit(t *testing.T) {
	rec := &model.FileRecord{ID: "abc"}

	if d := Evaluate(rec, time.Now(), nil); d != DecisionAllow {
		t.Errorf("ожидалось allow, получено %s", d)
	}
}

func TestDecision_String(t *testing.T) {
	tests := []struct {
		decision Decision
		expected string
	}{
		{DecisionAllow, "allow"},
		{DecisionNotFound, "not_found"},
		{DecisionExpired, "expired"},
		{DecisionLimitReached, "limit_reached"},
		{DecisionPasswordRequired, "password_required"},
		{DecisionInvalidPassword, "invalid_password"},
		{Decision(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.decision.String(); got != tt.expected {
			t.Errorf("ожидалось %q, получено %q", tt.expected, got)
		}
	}
}

func TestHashPassword_Verifiable(t *testing.T) {
	hash, err := HashPassword("пароль123")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if hash == "пароль123" {
		t.Error("хэш не должен совпадать с паролем")
	}

	rec := &model.FileRecord{ID: "abc", PasswordHash: &hash}
	if d := Evaluate(rec, time.Now(), strPtr("пароль123")); d != DecisionAllow {
		t.Errorf("ожидалось allow, получено %s", d)
	}
}
