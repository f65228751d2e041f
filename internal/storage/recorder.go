package storage

import (
	"context"
	"encoding/json"
	"time"

	"enel/internal/task/engine"
)

// Recorder adapts a Store to the executor's run recorder.
func Recorder(st Store) engine.Recorder {
	return engine.RecorderFunc(func(ctx context.Context, it engine.HistoryItem) error {
		return st.AppendRun(ctx, RunRecord{
			RunID:    it.ID,
			Task:     it.Name,
			Started:  it.Started,
			Finished: it.Finished,
			Duration: it.Duration,
			OK:       it.Error == "",
			Error:    it.Error,
		})
	})
}

// SaveResult JSON-encodes data and appends it as a ResultRecord.
func SaveResult(ctx context.Context, st Store, task, runID string, at time.Time, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return st.AppendResult(ctx, ResultRecord{RunID: runID, Task: task, At: at, Data: string(b)})
}
