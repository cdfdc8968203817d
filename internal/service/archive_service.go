package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hypemarket/engine/internal/domain"
)

// ArchiveService exports aged key transactions to blob storage as JSON Lines
// and prunes them from hot storage afterwards. Pruning only happens after a
// successful upload: losing audit rows is worse than archiving them twice.
type ArchiveService struct {
	log    domain.KeyTransactionLog
	blob   domain.BlobWriter
	logger *slog.Logger
}

// NewArchiveService creates an ArchiveService.
func NewArchiveService(log domain.KeyTransactionLog, blob domain.BlobWriter, logger *slog.Logger) *ArchiveService {
	return &ArchiveService{log: log, blob: blob, logger: logger}
}

// ArchiveResult reports one archival run.
type ArchiveResult struct {
	Archived int64
	Pruned   int64
	Path     string
}

// ArchiveBefore uploads every key transaction older than the cutoff as one
// JSONL object, then prunes the uploaded rows. A run with nothing to archive
// uploads nothing and returns a zero result.
func (s *ArchiveService) ArchiveBefore(ctx context.Context, cutoff time.Time) (ArchiveResult, error) {
	txns, err := s.log.ListKeyTransactionsBefore(ctx, cutoff)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("archive_service: list transactions: %w", err)
	}
	if len(txns) == 0 {
		s.logger.InfoContext(ctx, "archive_service: nothing to archive",
			slog.Time("cutoff", cutoff))
		return ArchiveResult{}, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, txn := range txns {
		if err := enc.Encode(archiveRecord(txn)); err != nil {
			return ArchiveResult{}, fmt.Errorf("archive_service: encode transaction %s: %w", txn.ID, err)
		}
	}

	path := fmt.Sprintf("archives/key_transactions/%s.jsonl", cutoff.UTC().Format("20060102T150405Z"))
	if err := s.blob.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return ArchiveResult{}, fmt.Errorf("archive_service: upload %s: %w", path, err)
	}

	pruned, err := s.log.PruneKeyTransactionsBefore(ctx, cutoff)
	if err != nil {
		// The archive object exists; only the prune failed. Report the path so
		// the operator can re-run the prune without a second upload.
		return ArchiveResult{Archived: int64(len(txns)), Path: path},
			fmt.Errorf("archive_service: prune after upload %s: %w", path, err)
	}

	s.logger.InfoContext(ctx, "archive_service: run complete",
		slog.Time("cutoff", cutoff),
		slog.Int("archived", len(txns)),
		slog.Int64("pruned", pruned),
		slog.String("path", path),
	)
	return ArchiveResult{Archived: int64(len(txns)), Pruned: pruned, Path: path}, nil
}

func archiveRecord(txn domain.KeyTransaction) map[string]any {
	return map[string]any{
		"id":            txn.ID,
		"trader":        txn.TraderID,
		"counterparty":  txn.CounterpartyID,
		"direction":     string(txn.Direction),
		"quantity":      txn.Quantity,
		"average_price": txn.AveragePrice,
		"total_value":   txn.TotalValue,
		"supply_before": txn.SupplyBefore,
		"supply_after":  txn.SupplyAfter,
		"created_at":    txn.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
