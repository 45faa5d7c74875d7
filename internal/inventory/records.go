package inventory

import (
	"database/sql"
	"time"
)

// Download is one finished transfer task.
type Download struct {
	ID               int64
	TaskID           string
	Description      string
	TotalBytes       int64
	TransferredBytes int64
	Success          bool
	Error            string
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Batch is one finished batch run.
type Batch struct {
	ID           int64
	BatchID      string
	TotalItems   int
	SuccessCount int
	FailureCount int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// RecordDownload inserts a finished download record.
func (s *Store) RecordDownload(d *Download) error {
	query := `
		INSERT INTO downloads (
			task_id, description, total_bytes, transferred_bytes,
			success, error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		d.TaskID, d.Description, d.TotalBytes, d.TransferredBytes,
		d.Success, d.Error, d.StartedAt, d.FinishedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}

	d.ID = id
	return nil
}

// RecordBatch inserts a finished batch record.
func (s *Store) RecordBatch(b *Batch) error {
	query := `
		INSERT INTO batches (
			batch_id, total_items, success_count, failure_count,
			started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		b.BatchID, b.TotalItems, b.SuccessCount, b.FailureCount,
		b.StartedAt, b.FinishedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}

	b.ID = id
	return nil
}

// RecentDownloads returns the most recently finished downloads, newest
// first.
func (s *Store) RecentDownloads(limit int) ([]*Download, error) {
	query := `
		SELECT id, task_id, description, total_bytes, transferred_bytes,
			   success, error, started_at, finished_at
		FROM downloads
		ORDER BY finished_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloads []*Download
	for rows.Next() {
		d := &Download{}
		err := rows.Scan(
			&d.ID, &d.TaskID, &d.Description, &d.TotalBytes, &d.TransferredBytes,
			&d.Success, &d.Error, &d.StartedAt, &d.FinishedAt,
		)
		if err != nil {
			return nil, err
		}
		downloads = append(downloads, d)
	}

	return downloads, rows.Err()
}

// RecentBatches returns the most recently finished batches, newest
// first.
func (s *Store) RecentBatches(limit int) ([]*Batch, error) {
	query := `
		SELECT id, batch_id, total_items, success_count, failure_count,
			   started_at, finished_at
		FROM batches
		ORDER BY finished_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		b := &Batch{}
		err := rows.Scan(
			&b.ID, &b.BatchID, &b.TotalItems, &b.SuccessCount, &b.FailureCount,
			&b.StartedAt, &b.FinishedAt,
		)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}

	return batches, rows.Err()
}

// Stats returns inventory counters.
func (s *Store) Stats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var totalDownloads int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM downloads").Scan(&totalDownloads)
	if err != nil {
		return nil, err
	}
	stats["total_downloads"] = totalDownloads

	var succeeded int64
	err = s.db.QueryRow("SELECT COUNT(*) FROM downloads WHERE success = TRUE").Scan(&succeeded)
	if err != nil {
		return nil, err
	}
	stats["succeeded_downloads"] = succeeded
	stats["failed_downloads"] = totalDownloads - succeeded

	var transferred sql.NullInt64
	err = s.db.QueryRow("SELECT SUM(transferred_bytes) FROM downloads").Scan(&transferred)
	if err != nil {
		return nil, err
	}
	stats["transferred_bytes"] = transferred.Int64

	var totalBatches int64
	err = s.db.QueryRow("SELECT COUNT(*) FROM batches").Scan(&totalBatches)
	if err != nil {
		return nil, err
	}
	stats["total_batches"] = totalBatches

	return stats, nil
}
