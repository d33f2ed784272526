package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"safedeal/services/dealindexer/storage"
)

const exportTimeout = 5 * time.Minute

type parquetDeal struct {
	ID           int64  `parquet:"name=id, type=INT64"`
	Client       string `parquet:"name=client, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Freelancer   string `parquet:"name=freelancer, type=UTF8, encoding=PLAIN_DICTIONARY"`
	AssetType    string `parquet:"name=asset_type, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Token        string `parquet:"name=token, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Amount       string `parquet:"name=amount, type=UTF8, encoding=PLAIN_DICTIONARY"`
	DeadlineSlot int64  `parquet:"name=deadline_slot, type=INT64"`
	Mode         string `parquet:"name=mode, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Status       string `parquet:"name=status, type=UTF8, encoding=PLAIN_DICTIONARY"`
	CreatedSlot  int64  `parquet:"name=created_slot, type=INT64"`
	Note         string `parquet:"name=note, type=UTF8, encoding=PLAIN_DICTIONARY"`
	LastEventSeq int64  `parquet:"name=last_event_seq, type=INT64"`
	IndexedAt    string `parquet:"name=indexed_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

func (s *Server) runExport(job *storage.ExportJob) {
	ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
	defer cancel()

	path := filepath.Join(s.exportDir, fmt.Sprintf("deals-%s.parquet", job.ID))
	rows, err := s.exportDeals(ctx, path)
	if err != nil {
		path = ""
		s.logger.Error("deal export failed", slog.String("job", job.ID.String()), slog.Any("error", err))
	} else {
		s.logger.Info("deal export written", slog.String("job", job.ID.String()), slog.String("path", path), slog.Int("rows", rows))
	}
	if err := s.store.FinishExportJob(ctx, job.ID, path, rows, err); err != nil {
		s.logger.Error("record export result", slog.String("job", job.ID.String()), slog.Any("error", err))
	}
}

func (s *Server) exportDeals(ctx context.Context, path string) (int, error) {
	if s.exportDir == "" {
		return 0, fmt.Errorf("export: directory not configured")
	}
	if err := os.MkdirAll(s.exportDir, 0o750); err != nil {
		return 0, fmt.Errorf("export: create directory: %w", err)
	}
	deals, err := s.store.AllDeals(ctx)
	if err != nil {
		return 0, err
	}
	if err := writeParquet(path, deals); err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return len(deals), nil
}

func writeParquet(path string, deals []storage.Deal) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetDeal), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.RowGroupSize = 64 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, deal := range deals {
		row := &parquetDeal{
			ID:           int64(deal.ID),
			Client:       deal.Client,
			Freelancer:   deal.Freelancer,
			AssetType:    deal.AssetType,
			Token:        deal.Token,
			Amount:       deal.Amount,
			DeadlineSlot: int64(deal.DeadlineSlot),
			Mode:         deal.Mode,
			Status:       deal.Status,
			CreatedSlot:  int64(deal.CreatedSlot),
			Note:         deal.Note,
			LastEventSeq: deal.LastEventSeq,
			IndexedAt:    deal.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close parquet file: %w", err)
	}
	return nil
}
