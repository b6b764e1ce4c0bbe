package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"
	contentTypeJSON  = "application/json"

	// ArchiveRoot is the key prefix every archive lives under.
	ArchiveRoot = "archive/"
)

// Archiver implements domain.Archiver. Each call writes one directory:
//
//	archive/<reason>/<20060102T150405Z>/trades.jsonl
//	archive/<reason>/<20060102T150405Z>/positions.jsonl
//	archive/<reason>/<20060102T150405Z>/opportunities.jsonl
//	archive/<reason>/<20060102T150405Z>/summary.json
//
// Files whose payload exceeds multipartThreshold go through PutMultipart.
type Archiver struct {
	writer             domain.BlobWriter
	multipartThreshold int
}

// NewArchiver creates an Archiver writing through w.
func NewArchiver(w domain.BlobWriter) *Archiver {
	return &Archiver{writer: w, multipartThreshold: int(minPartSize)}
}

// archiveSummary is the scalar part of the state written next to the
// ledgers.
type archiveSummary struct {
	Reason             string    `json:"reason"`
	ArchivedAt         time.Time `json:"archived_at"`
	Balance            float64   `json:"balance"`
	InitialBalance     float64   `json:"initial_balance"`
	OpportunitiesFound int64     `json:"opportunities_found"`
	ScanCount          int64     `json:"scan_count"`
	LastScan           time.Time `json:"last_scan"`
	Trades             int       `json:"trades"`
	Positions          int       `json:"positions"`
	Opportunities      int       `json:"opportunities"`
}

// ArchiveState uploads the ledger in state and returns the archive prefix.
// An empty ledger still writes summary.json so resets leave a marker.
func (a *Archiver) ArchiveState(ctx context.Context, state domain.TraderState, reason string, at time.Time) (string, error) {
	prefix := archivePrefix(reason, at)

	positions := make([]domain.Position, 0, len(state.Positions))
	for _, p := range state.Positions {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool {
		if !positions[i].OpenedAt.Equal(positions[j].OpenedAt) {
			return positions[i].OpenedAt.Before(positions[j].OpenedAt)
		}
		return positions[i].MarketID < positions[j].MarketID
	})

	if err := putJSONL(ctx, a, prefix+"trades.jsonl", state.Trades); err != nil {
		return "", err
	}
	if err := putJSONL(ctx, a, prefix+"positions.jsonl", positions); err != nil {
		return "", err
	}
	if err := putJSONL(ctx, a, prefix+"opportunities.jsonl", state.History); err != nil {
		return "", err
	}

	summary, err := json.Marshal(archiveSummary{
		Reason:             reason,
		ArchivedAt:         at.UTC(),
		Balance:            state.Balance,
		InitialBalance:     state.InitialBalance,
		OpportunitiesFound: state.OpportunitiesFound,
		ScanCount:          state.ScanCount,
		LastScan:           state.LastScan,
		Trades:             len(state.Trades),
		Positions:          len(positions),
		Opportunities:      len(state.History),
	})
	if err != nil {
		return "", fmt.Errorf("s3blob: archive summary marshal: %w", err)
	}
	if err := a.writer.Put(ctx, prefix+"summary.json", bytes.NewReader(summary), contentTypeJSON); err != nil {
		return "", fmt.Errorf("s3blob: archive summary upload: %w", err)
	}
	return prefix, nil
}

func putJSONL[T any](ctx context.Context, a *Archiver, path string, records []T) error {
	if len(records) == 0 {
		return nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s marshal: %w", path, err)
	}
	if len(buf) > a.multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive %s upload: %w", path, err)
	}
	return nil
}

func archivePrefix(reason string, at time.Time) string {
	if reason == "" {
		reason = "manual"
	}
	return fmt.Sprintf("%s%s/%s/", ArchiveRoot, reason, at.UTC().Format("20060102T150405Z"))
}

// marshalJSONL encodes records as newline-delimited compact JSON.
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

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
