package materialize

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"receipt-reconciler/internal/models"
	"receipt-reconciler/internal/webpage"
)

// snapshot writes the extracted page view to the debug directory so a
// failed materialization can be diagnosed after the run. Snapshots are
// written on failure only; routine runs stay quiet.
func (m *Materializer) snapshot(order *models.OrderRecord, page *webpage.Page) {
	if m.config.DebugDir == "" {
		return
	}
	if err := os.MkdirAll(m.config.DebugDir, 0o755); err != nil {
		m.log.WithError(err).Warn("Failed to create debug directory")
		return
	}

	name := fmt.Sprintf("%s_%s_%s.txt", order.Source, sanitizeFilePart(order.LedgerKey()), uuid.NewString()[:8])
	path := filepath.Join(m.config.DebugDir, name)

	content := fmt.Sprintf("url: %s\ntitle: %s\n\n%s\n", page.URL, page.Title, page.Text)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		m.log.WithError(err).Warn("Failed to write debug snapshot")
		return
	}
	m.log.WithField("snapshot", path).Info("Wrote failure snapshot")
}
