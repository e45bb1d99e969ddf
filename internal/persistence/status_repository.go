package persistence

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/portwatch/container-scrape-worker/internal/model"
)

// LastStatus is what change detection needs from the previous observation.
type LastStatus struct {
	Fingerprint      string
	NormalizedStatus model.NormalizedStatus
}

// StatusStorage owns the last-known record per (container, provider). The
// orchestrator never caches it beyond a single job run; concurrent runs rely
// on the single-row upsert here for consistency.
type StatusStorage interface {
	GetLastStatus(ctx context.Context, containerNo string, provider model.Provider) (*LastStatus, error)
	UpsertStatus(ctx context.Context, result *model.ScrapeResult, fingerprint string) error
	AppendHistoryEvent(ctx context.Context, containerNo string, provider model.Provider,
		oldStatus *model.NormalizedStatus, newStatus model.NormalizedStatus, ts time.Time) error
}

type StatusRepository struct {
	db  *sql.DB
	log *slog.Logger
}

func NewStatusRepository(db *sql.DB, log *slog.Logger) *StatusRepository {
	return &StatusRepository{db: db, log: log}
}

func (sr *StatusRepository) GetLastStatus(ctx context.Context, containerNo string,
	provider model.Provider) (*LastStatus, error) {
	var fp, ns string
	err := sr.db.QueryRowContext(ctx,
		"SELECT fingerprint, normalized_status FROM container_status WHERE container_no = ? AND provider = ?",
		containerNo, provider.String()).Scan(&fp, &ns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	last := &LastStatus{Fingerprint: fp}
	if err := last.NormalizedStatus.UnmarshalText([]byte(ns)); err != nil {
		return nil, err
	}
	return last, nil
}

func (sr *StatusRepository) UpsertStatus(ctx context.Context, result *model.ScrapeResult,
	fingerprint string) error {
	var dischargeTs interface{}
	if result.DischargeOrderTs != nil {
		dischargeTs = result.DischargeOrderTs.UTC()
	}
	_, err := sr.db.ExecContext(ctx,
		`INSERT INTO container_status
			(container_no, provider, terminal, shipping_line, iso_code, status_raw,
			 normalized_status, ready_for_loading, discharge_order_status, discharge_order_ts,
			 delivered_out, fingerprint, scraped_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE
			terminal = VALUES(terminal),
			shipping_line = VALUES(shipping_line),
			iso_code = VALUES(iso_code),
			status_raw = VALUES(status_raw),
			normalized_status = VALUES(normalized_status),
			ready_for_loading = VALUES(ready_for_loading),
			discharge_order_status = VALUES(discharge_order_status),
			discharge_order_ts = VALUES(discharge_order_ts),
			delivered_out = VALUES(delivered_out),
			fingerprint = VALUES(fingerprint),
			scraped_at = VALUES(scraped_at)`,
		result.ContainerNo,
		result.Provider.String(),
		result.Terminal,
		result.ShippingLine,
		result.IsoCode,
		result.StatusRaw,
		result.NormalizedStatus.String(),
		result.ReadyForLoading,
		result.DischargeOrderStatus,
		dischargeTs,
		result.DeliveredOut,
		fingerprint,
		result.ScrapedAt)
	if err != nil {
		return err
	}
	sr.log.Debug("container status upserted.",
		slog.String("container", result.ContainerNo),
		slog.String("provider", result.Provider.String()))
	return nil
}

func (sr *StatusRepository) AppendHistoryEvent(ctx context.Context, containerNo string,
	provider model.Provider, oldStatus *model.NormalizedStatus, newStatus model.NormalizedStatus,
	ts time.Time) error {
	var old interface{}
	if oldStatus != nil {
		old = oldStatus.String()
	}
	_, err := sr.db.ExecContext(ctx,
		"INSERT INTO container_status_history (container_no, provider, old_status, new_status, changed_at) VALUES (?, ?, ?, ?, ?)",
		containerNo, provider.String(), old, newStatus.String(), ts)
	if err != nil {
		return err
	}
	sr.log.Debug("history event appended.",
		slog.String("container", containerNo),
		slog.String("new_status", newStatus.String()))
	return nil
}
