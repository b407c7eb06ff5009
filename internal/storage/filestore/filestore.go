// Пакет filestore — blob-хранилище на файловой системе.
//
// Каждый blob хранится под непрозрачным именем (32 hex символа),
// которое никогда не раскрывается клиентам. Файлы создаются с правами
// 0600 и не обслуживаются веб-сервером по пути — отдача идёт только
// через download-сервис. Частично записанные blob'ы удаляет
// вызывающий код через Writer.Abort — само хранилище не чистит
// за автором записи.
package filestore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileStore — управление blob'ами на диске.
type FileStore struct {
	// dataDir — корневая директория хранения (PASTRY_STORAGE_DIR)
	dataDir string
}

// New создаёт FileStore. Создаёт директорию данных, если её нет.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию хранилища %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// Writer — приёмник байтов нового blob'а. Считает записанные байты.
// Вызывающий код обязан завершить запись через Commit или Abort.
type Writer struct {
	f          *os.File
	storedName string
	fullPath   string
	size       int64
	done       bool
}

// Create выделяет свежее непрозрачное имя и открывает приёмник записи.
// Файл создаётся атомарно (O_EXCL) с правами 0600.
func (fs *FileStore) Create() (*Writer, error) {
	storedName := newStoredName()
	fullPath := filepath.Join(fs.dataDir, storedName)

	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания blob %s: %w", storedName, err)
	}

	return &Writer{
		f:          f,
		storedName: storedName,
		fullPath:   fullPath,
	}, nil
}

// Write реализует io.Writer с подсчётом записанных байтов.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

// Size возвращает количество байтов, записанных на данный момент.
func (w *Writer) Size() int64 {
	return w.size
}

// StoredName возвращает непрозрачное имя blob'а.
func (w *Writer) StoredName() string {
	return w.storedName
}

// Commit завершает запись: fsync + close. После Commit blob считается
// полностью записанным и может быть привязан к метаданным.
func (w *Writer) Commit() error {
	if w.done {
		return nil
	}
	w.done = true

	if err := w.f.Sync(); err != nil {
		w.f.Close()
		os.Remove(w.fullPath)
		return fmt.Errorf("ошибка fsync blob %s: %w", w.storedName, err)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.fullPath)
		return fmt.Errorf("ошибка закрытия blob %s: %w", w.storedName, err)
	}
	return nil
}

// Abort отменяет запись и удаляет частично записанный blob.
// Идемпотентен: повторный вызов безопасен; вызов после Commit
// удаляет уже записанный blob (откат).
func (w *Writer) Abort() {
	if !w.done {
		w.done = true
		_ = w.f.Close()
	}
	_ = os.Remove(w.fullPath)
}

// Open открывает blob для чтения. Вызывающий код обязан закрыть файл.
func (fs *FileStore) Open(storedName string) (*os.File, error) {
	fullPath, err := fs.resolve(storedName)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob не найден: %s", storedName)
		}
		return nil, fmt.Errorf("ошибка открытия blob %s: %w", storedName, err)
	}
	return f, nil
}

// Delete удаляет blob. Идемпотентен: отсутствие blob'а — не ошибка.
func (fs *FileStore) Delete(storedName string) error {
	fullPath, err := fs.resolve(storedName)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления blob %s: %w", storedName, err)
	}
	return nil
}

// Exists проверяет наличие blob'а на диске.
func (fs *FileStore) Exists(storedName string) bool {
	fullPath, err := fs.resolve(storedName)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(fullPath)
	return statErr == nil
}

// Stat возвращает информацию о blob'е.
func (fs *FileStore) Stat(storedName string) (os.FileInfo, error) {
	fullPath, err := fs.resolve(storedName)
	if err != nil {
		return nil, err
	}
	return os.Stat(fullPath)
}

// List возвращает имена всех blob'ов в хранилище.
// Используется сверкой blob'ов с метаданными (поиск сирот).
func (fs *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(fs.dataDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", fs.dataDir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// DataDir возвращает путь к директории хранилища.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// resolve проверяет имя blob'а и возвращает абсолютный путь.
// Отвергает имена с разделителями пути — защита от directory traversal.
func (fs *FileStore) resolve(storedName string) (string, error) {
	if storedName == "" || strings.ContainsAny(storedName, `/\`) || storedName != filepath.Base(storedName) {
		return "", fmt.Errorf("недопустимое имя blob: %q", storedName)
	}
	return filepath.Join(fs.dataDir, storedName), nil
}

// newStoredName генерирует непрозрачное имя blob'а: UUID v4 без дефисов,
// 32 hex символа. Имена никогда не переиспользуются.
func newStoredName() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
