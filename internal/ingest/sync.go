package ingest

import (
	"context"
	"log/slog"
)

// SyncResult counts what a Sync pass changed.
type SyncResult struct {
	Indexed int `json:"indexed"`
	Removed int `json:"removed"`
	Failed  int `json:"failed"`
}

// Sync walks the source directory and brings the store up to date:
// new or changed files are re-ingested and files gone from disk are removed.
// Per-file failures are logged and counted, not returned.
func (in *Ingester) Sync(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	metas, err := in.store.List("")
	if err != nil {
		return res, err
	}
	checksums, err := in.db.AllChecksums()
	if err != nil {
		return res, err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}
		if checksums[m.Path] == m.Checksum {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := in.IngestFile(ctx, m.Path); err != nil {
			res.Failed++
			in.logger.Warn("sync: ingest failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		res.Indexed++
	}

	for p := range checksums {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := in.Remove(ctx, p); err != nil {
			in.logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		res.Removed++
		in.logger.Debug("sync: removed stale", slog.String("path", p))
	}

	in.logger.Info("sync: done",
		slog.Int("indexed", res.Indexed),
		slog.Int("removed", res.Removed),
		slog.Int("failed", res.Failed))
	return res, nil
}
