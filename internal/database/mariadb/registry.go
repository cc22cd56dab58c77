package mariadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kozaktomas/gate-attendance/internal/database"
)

// ListEnrolledIdentities returns every active student. Students enrolled through the records
// platform carry their pose vectors in embeddings_json as [[e1, ...], [e1, ...], ...];
// older rows only point at an embedding file. A row whose embeddings_json cannot be decoded is
// still returned, with EmbeddingsErr set, so one bad row does not hide the rest of the roster.
func (p *Pool) ListEnrolledIdentities(ctx context.Context) ([]database.EnrolledIdentity, error) {
	query := `
		SELECT student_id, full_name, COALESCE(embedding_path, ''), embeddings_json
		FROM students
		WHERE is_active = 1
		ORDER BY student_id
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()

	var identities []database.EnrolledIdentity
	for rows.Next() {
		var ident database.EnrolledIdentity
		var raw []byte
		if err := rows.Scan(&ident.ID, &ident.Name, &ident.EmbeddingPath, &raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &ident.Embeddings); err != nil {
				ident.Embeddings = nil
				ident.EmbeddingsErr = fmt.Errorf("decode embeddings_json: %w", err)
			}
		}
		identities = append(identities, ident)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return identities, nil
}

// GetStudent returns the student, or nil if the registry has no such ID.
func (p *Pool) GetStudent(ctx context.Context, studentID string) (*database.Student, error) {
	var s database.Student
	err := p.db.QueryRowContext(ctx, `
		SELECT student_id, full_name, COALESCE(embedding_path, ''), is_active
		FROM students
		WHERE student_id = ?
	`, studentID).Scan(&s.ID, &s.Name, &s.EmbeddingPath, &s.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query student %s: %w", studentID, err)
	}
	return &s, nil
}

// GetGuardians returns the guardian contacts linked to a student.
func (p *Pool) GetGuardians(ctx context.Context, studentID string) ([]database.Guardian, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, student_id, full_name, COALESCE(email, ''), COALESCE(phone, '')
		FROM guardians
		WHERE student_id = ?
		ORDER BY id
	`, studentID)
	if err != nil {
		return nil, fmt.Errorf("query guardians: %w", err)
	}
	defer rows.Close()

	var guardians []database.Guardian
	for rows.Next() {
		var g database.Guardian
		if err := rows.Scan(&g.ID, &g.StudentID, &g.Name, &g.Email, &g.Phone); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		guardians = append(guardians, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return guardians, nil
}

var _ database.Registry = (*Pool)(nil)
