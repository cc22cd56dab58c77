package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/gate-attendance/internal/database"
)

const attendanceColumns = `id, student_id, date, time_in, time_out, status, email_sent, sms_sent, created_at`

// AttendanceRepository stores attendance rows. Conditional writes run under a transaction-scoped
// advisory lock on (student, date), so replicas of the service serialize the same way a single
// process does.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

func dayParam(date time.Time) string {
	return date.Format(time.DateOnly)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttendance(row rowScanner) (database.AttendanceEntry, error) {
	var e database.AttendanceEntry
	var timeIn, timeOut sql.NullTime
	var status string
	if err := row.Scan(&e.ID, &e.StudentID, &e.Date, &timeIn, &timeOut, &status, &e.EmailSent, &e.SMSSent, &e.CreatedAt); err != nil {
		return e, err
	}
	e.Date = database.DateOf(e.Date)
	e.Status = database.AttendanceStatus(status)
	if timeIn.Valid {
		e.TimeIn = &timeIn.Time
	}
	if timeOut.Valid {
		e.TimeOut = &timeOut.Time
	}
	return e, nil
}

func (r *AttendanceRepository) list(ctx context.Context, query string, args ...any) ([]database.AttendanceEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []database.AttendanceEntry
	for rows.Next() {
		e, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return entries, nil
}

func limitParam(limit int) any {
	if limit <= 0 {
		return nil // LIMIT NULL means no limit
	}
	return limit
}

// ListForDay returns the student's entries for the date, newest first
func (r *AttendanceRepository) ListForDay(ctx context.Context, studentID string, date time.Time) ([]database.AttendanceEntry, error) {
	return r.list(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendance
		WHERE student_id = $1 AND date = $2::date
		ORDER BY created_at DESC, id DESC
	`, studentID, dayParam(date))
}

// ListArrivals returns entries with a time-in on date, newest first
func (r *AttendanceRepository) ListArrivals(ctx context.Context, date time.Time, limit int) ([]database.AttendanceEntry, error) {
	return r.list(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendance
		WHERE date = $1::date AND time_in IS NOT NULL
		ORDER BY time_in DESC, id DESC
		LIMIT $2
	`, dayParam(date), limitParam(limit))
}

// ListDepartures returns entries with a time-out on date, newest first
func (r *AttendanceRepository) ListDepartures(ctx context.Context, date time.Time, limit int) ([]database.AttendanceEntry, error) {
	return r.list(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendance
		WHERE date = $1::date AND time_out IS NOT NULL
		ORDER BY time_out DESC, id DESC
		LIMIT $2
	`, dayParam(date), limitParam(limit))
}

// InsertArrival inserts entry unless the mode's uniqueness rule forbids it
func (r *AttendanceRepository) InsertArrival(ctx context.Context, entry *database.AttendanceEntry, mode database.GateMode) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	day := dayParam(entry.Date)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "attendance:"+entry.StudentID+":"+day); err != nil {
		return false, fmt.Errorf("acquire attendance lock: %w", err)
	}

	blocking := `SELECT 1 FROM attendance WHERE student_id = $1 AND date = $2::date`
	if mode == database.GateModeOpen {
		blocking += ` AND time_in IS NOT NULL AND time_out IS NULL`
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO attendance (student_id, date, time_in, status)
		SELECT $1::text, $2::date, $3::timestamptz, $4::text
		WHERE NOT EXISTS (`+blocking+`)
		RETURNING id, created_at
	`, entry.StudentID, day, entry.TimeIn, string(entry.Status)).Scan(&entry.ID, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert arrival: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit arrival: %w", err)
	}
	return true, nil
}

// SetDeparture sets the time-out of an open entry
func (r *AttendanceRepository) SetDeparture(ctx context.Context, entryID int64, at time.Time) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE attendance SET time_out = $2
		WHERE id = $1 AND time_in IS NOT NULL AND time_out IS NULL
	`, entryID, at)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkNotified records delivered channels; flags are only ever set, never cleared
func (r *AttendanceRepository) MarkNotified(ctx context.Context, entryID int64, emailSent, smsSent bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE attendance SET email_sent = email_sent OR $2, sms_sent = sms_sent OR $3
		WHERE id = $1
	`, entryID, emailSent, smsSent)
	return err
}
