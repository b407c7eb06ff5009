// Пакет handlers — HTTP-обработчики API Pastry.
// handler.go — общие вспомогательные функции пакета.
package handlers

import (
	"encoding/json"
	"net/http"
)

// writeJSON сериализует ответ со статусом status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
