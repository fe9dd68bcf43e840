package pipeline

import (
	"context"
	"database/sql"
	"log/slog"
	"strconv"
	"time"

	"github.com/trackrelay/trackrelay/db"
	"github.com/trackrelay/trackrelay/metadata"
)

// Journal records request progress in Postgres for the /status and /requests
// surfaces. It is strictly observational: writes are best effort, a journal
// failure never affects the pipeline, and a nil *Journal is a valid no-op.
type Journal struct {
	db *sql.DB
}

// NewJournal wraps an open database handle. A nil handle yields a no-op journal.
func NewJournal(dbx *sql.DB) *Journal {
	if dbx == nil {
		return nil
	}
	return &Journal{db: dbx}
}

// RequestRecord is one journal row as served by GET /requests/{id}.
type RequestRecord struct {
	RequestID     string    `json:"requestId"`
	RawURL        string    `json:"rawUrl"`
	Title         string    `json:"title"`
	Performer     string    `json:"performer"`
	ProviderID    string    `json:"providerId,omitempty"`
	SizeBytes     int64     `json:"sizeBytes"`
	State         string    `json:"state"`
	FailureStage  string    `json:"failureStage,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`
	Attempts      int       `json:"attempts"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (j *Journal) Create(ctx context.Context, req Request) {
	if j == nil {
		return
	}
	_, err := j.db.ExecContext(ctx, `INSERT INTO relay_requests (request_id, raw_url, state, created_at, updated_at)
		VALUES ($1,$2,$3,$4,NOW()) ON CONFLICT (request_id) DO NOTHING`,
		req.ID, req.RawURL, string(StateReceived), req.CreatedAt)
	j.logErr("create", err)
}

func (j *Journal) SetState(ctx context.Context, requestID string, s State) {
	if j == nil {
		return
	}
	_, err := j.db.ExecContext(ctx, `UPDATE relay_requests SET state=$2, updated_at=NOW() WHERE request_id=$1`,
		requestID, string(s))
	j.logErr("set state", err)
}

func (j *Journal) SetLabel(ctx context.Context, requestID string, label metadata.TrackLabel) {
	if j == nil {
		return
	}
	_, err := j.db.ExecContext(ctx, `UPDATE relay_requests SET title=$2, performer=$3, updated_at=NOW() WHERE request_id=$1`,
		requestID, label.Title, label.Performer)
	j.logErr("set label", err)
}

func (j *Journal) SetProvider(ctx context.Context, requestID, providerID string) {
	if j == nil {
		return
	}
	_, err := j.db.ExecContext(ctx, `UPDATE relay_requests SET provider_id=$2, updated_at=NOW() WHERE request_id=$1`,
		requestID, providerID)
	j.logErr("set provider", err)
}

func (j *Journal) SetPayload(ctx context.Context, requestID string, sizeBytes int64) {
	if j == nil {
		return
	}
	_, err := j.db.ExecContext(ctx, `UPDATE relay_requests SET size_bytes=$2, state=$3, updated_at=NOW() WHERE request_id=$1`,
		requestID, sizeBytes, string(StateFetched))
	j.logErr("set payload", err)
}

func (j *Journal) AddAttempts(ctx context.Context, requestID string, n int) {
	if j == nil || n == 0 {
		return
	}
	_, err := j.db.ExecContext(ctx, `UPDATE relay_requests SET attempts=attempts+$2, updated_at=NOW() WHERE request_id=$1`,
		requestID, n)
	j.logErr("add attempts", err)
}

func (j *Journal) Fail(ctx context.Context, requestID, stage, reason string) {
	if j == nil {
		return
	}
	_, err := j.db.ExecContext(ctx, `UPDATE relay_requests SET state=$2, failure_stage=$3, failure_reason=$4, updated_at=NOW() WHERE request_id=$1`,
		requestID, string(StateFailed), stage, reason)
	j.logErr("fail", err)
}

// Get returns the journal row for a request id, or sql.ErrNoRows when absent.
func (j *Journal) Get(ctx context.Context, requestID string) (*RequestRecord, error) {
	if j == nil {
		return nil, sql.ErrNoRows
	}
	var r RequestRecord
	var providerID, failureStage, failureReason sql.NullString
	err := j.db.QueryRowContext(ctx, `SELECT request_id, raw_url, COALESCE(title,''), COALESCE(performer,''),
		provider_id, size_bytes, state, failure_stage, failure_reason, attempts, created_at
		FROM relay_requests WHERE request_id=$1`, requestID).
		Scan(&r.RequestID, &r.RawURL, &r.Title, &r.Performer, &providerID, &r.SizeBytes,
			&r.State, &failureStage, &failureReason, &r.Attempts, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.ProviderID = providerID.String
	r.FailureStage = failureStage.String
	r.FailureReason = failureReason.String
	return &r, nil
}

// UpdateMovingAvg maintains an exponential moving average under a kv key
// (alpha=0.2) so /status can report typical stage durations cheaply.
func (j *Journal) UpdateMovingAvg(ctx context.Context, key string, sample float64) {
	if j == nil {
		return
	}
	prev, err := db.GetKV(ctx, j.db, key)
	if err != nil {
		j.logErr("moving avg read", err)
		return
	}
	v := sample
	if prev != "" {
		if p, perr := strconv.ParseFloat(prev, 64); perr == nil {
			v = 0.2*sample + 0.8*p
		}
	}
	j.logErr("moving avg write", db.SetKV(ctx, j.db, key, strconv.FormatFloat(v, 'f', 1, 64)))
}

// MovingAvg reads a kv moving average; zero when never recorded.
func (j *Journal) MovingAvg(ctx context.Context, key string) float64 {
	if j == nil {
		return 0
	}
	v, err := db.GetKV(ctx, j.db, key)
	if err != nil || v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func (j *Journal) logErr(op string, err error) {
	if err != nil {
		slog.Debug("journal write failed", slog.String("component", "journal"), slog.String("op", op), slog.Any("err", err))
	}
}
