package database

import (
	"context"
	"encoding/json"

	"github.com/adspacehq/adspace/internal/apierror"
	"github.com/adspacehq/adspace/model"
)

// RecordSettlementRun persists the audit record of one orchestrator run.
func (d Datasource) RecordSettlementRun(ctx context.Context, run *model.SettlementRun) (*model.SettlementRun, error) {
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal run stats", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO settlement_runs (run_id, started_at, finished_at, stats)
		VALUES ($1, $2, $3, $4)
	`, run.RunID, run.StartedAt, run.FinishedAt, statsJSON)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record settlement run", err)
	}
	return run, nil
}

// GetRecentSettlementRuns returns the latest run records, newest first.
func (d Datasource) GetRecentSettlementRuns(ctx context.Context, limit int) ([]model.SettlementRun, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, stats
		FROM settlement_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve settlement runs", err)
	}
	defer rows.Close()

	var runs []model.SettlementRun
	for rows.Next() {
		run := model.SettlementRun{}
		var statsJSON []byte
		if err := rows.Scan(&run.RunID, &run.StartedAt, &run.FinishedAt, &statsJSON); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan settlement run", err)
		}
		if err := json.Unmarshal(statsJSON, &run.Stats); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal run stats", err)
		}
		runs = append(runs, run)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over settlement runs", err)
	}
	return runs, nil
}
