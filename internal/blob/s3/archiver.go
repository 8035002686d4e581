package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/otcindex/internal/domain"
)

// FillArchiveStore is the slice of the fill store the archiver needs.
type FillArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Fill, error)
}

// WithdrawalArchiveStore is the slice of the withdrawal store the archiver
// needs.
type WithdrawalArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Withdrawal, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for aged
// rows, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here. The caller deletes after the upload has been verified.
type ArchiveImpl struct {
	writer      domain.BlobWriter
	reader      *Reader
	fills       FillArchiveStore
	withdrawals WithdrawalArchiveStore
}

// NewArchiver creates a new ArchiveImpl. reader may be nil to skip the
// post-upload existence check.
func NewArchiver(writer domain.BlobWriter, reader *Reader, fills FillArchiveStore, withdrawals WithdrawalArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:      writer,
		reader:      reader,
		fills:       fills,
		withdrawals: withdrawals,
	}
}

// ArchiveFills exports fills older than the cutoff to
// archive/fills/YYYY-MM.jsonl and returns the number of rows archived.
func (a *ArchiveImpl) ArchiveFills(ctx context.Context, before time.Time) (int64, error) {
	fills, err := a.fills.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills query: %w", err)
	}
	if len(fills) == 0 {
		return 0, nil
	}

	records := make([]fillRecord, len(fills))
	for i, f := range fills {
		records[i] = newFillRecord(f)
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills marshal: %w", err)
	}
	if err := a.upload(ctx, "fills", before, buf); err != nil {
		return 0, err
	}
	return int64(len(records)), nil
}

// ArchiveWithdrawals exports withdrawals older than the cutoff to
// archive/withdrawals/YYYY-MM.jsonl and returns the number archived.
func (a *ArchiveImpl) ArchiveWithdrawals(ctx context.Context, before time.Time) (int64, error) {
	withdrawals, err := a.withdrawals.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive withdrawals query: %w", err)
	}
	if len(withdrawals) == 0 {
		return 0, nil
	}

	records := make([]withdrawalRecord, len(withdrawals))
	for i, w := range withdrawals {
		records[i] = newWithdrawalRecord(w)
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive withdrawals marshal: %w", err)
	}
	if err := a.upload(ctx, "withdrawals", before, buf); err != nil {
		return 0, err
	}
	return int64(len(records)), nil
}

func (a *ArchiveImpl) upload(ctx context.Context, kind string, before time.Time, buf []byte) error {
	path := archivePath(kind, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	if a.reader != nil {
		ok, err := a.reader.Exists(ctx, path)
		if err != nil {
			return fmt.Errorf("s3blob: archive %s verify: %w", kind, err)
		}
		if !ok {
			return fmt.Errorf("s3blob: archive %s verify: object %s missing after upload", kind, path)
		}
	}
	return nil
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// fillRecord is the JSONL shape of one archived fill. Amounts are decimal
// strings so uint256 values survive the export exactly.
type fillRecord struct {
	OrderID            string    `json:"order_id"`
	FillSequence       uint64    `json:"fill_sequence"`
	Filler             string    `json:"filler"`
	Amount             string    `json:"amount"`
	CounterpartyAmount string    `json:"counterparty_amount"`
	TxHash             string    `json:"tx_hash"`
	BlockHeight        uint64    `json:"block_height"`
	Timestamp          time.Time `json:"timestamp"`
}

func newFillRecord(f domain.Fill) fillRecord {
	return fillRecord{
		OrderID:            f.OrderID,
		FillSequence:       f.FillSequence,
		Filler:             f.Filler,
		Amount:             f.Amount.String(),
		CounterpartyAmount: f.CounterpartyAmount.String(),
		TxHash:             f.TxHash,
		BlockHeight:        f.BlockHeight,
		Timestamp:          f.Timestamp,
	}
}

type withdrawalRecord struct {
	User        string    `json:"user"`
	TxHash      string    `json:"tx_hash"`
	Amount      string    `json:"amount"`
	Kind        string    `json:"kind"`
	BlockHeight uint64    `json:"block_height"`
	Timestamp   time.Time `json:"timestamp"`
}

func newWithdrawalRecord(w domain.Withdrawal) withdrawalRecord {
	return withdrawalRecord{
		User:        w.User,
		TxHash:      w.TxHash,
		Amount:      w.Amount.String(),
		Kind:        string(w.Kind),
		BlockHeight: w.BlockHeight,
		Timestamp:   w.Timestamp,
	}
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff:
//
//	archive/fills/2026-01.jsonl
//	archive/withdrawals/2026-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
