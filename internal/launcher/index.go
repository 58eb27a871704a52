package launcher

import (
	"log/slog"
	"time"

	"github.com/BadgerOps/kscript/internal/store"
)

// Index records launches in the cache index. *store.Store implements it.
type Index interface {
	RecordFetch(rec *store.FetchRecord) error
	RecordArtifact(rec *store.ArtifactRecord) error
	TouchArtifact(artifactPath, scriptPath string, usedAt time.Time) error
	CreateLaunchRun(run *store.LaunchRun) error
	FinishLaunchRun(run *store.LaunchRun) error
}

var _ Index = (*store.Store)(nil)

// index runs fn against the configured index. The index is advisory, so
// failures are logged and otherwise ignored.
func (l *Launcher) index(logger *slog.Logger, op string, fn func(Index) error) {
	if l.Index == nil {
		return
	}
	if err := fn(l.Index); err != nil {
		logger.Warn("cache index update failed", "op", op, "error", err)
	}
}
