// Package health отдаёт liveness и readiness для оркестратора.
package health

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// Checks: что проверяет /readyz. DB может быть nil: зеркало истории выключено.
type Checks struct {
	DataDir string
	DB      *gorm.DB
}

// RegisterRoutes: /healthz и /readyz.
func RegisterRoutes(r *mux.Router, c Checks) {
	r.HandleFunc("/healthz", liveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", c.readiness).Methods(http.MethodGet)
}

func (c Checks) readiness(w http.ResponseWriter, _ *http.Request) {
	if err := writable(c.DataDir); err != nil {
		http.Error(w, "data dir not writable", http.StatusServiceUnavailable)
		return
	}
	if c.DB != nil {
		sqlDB, err := c.DB.DB()
		if err != nil {
			http.Error(w, "db handle error", http.StatusServiceUnavailable)
			return
		}
		if err := sqlDB.Ping(); err != nil {
			http.Error(w, "db unreachable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func writable(dir string) error {
	f, err := os.CreateTemp(dir, ".readyz-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(filepath.Clean(name))
}

func liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
