package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/gate-attendance/internal/database"
	"github.com/pgvector/pgvector-go"
)

// RegistryRepository reads the roster, enrollment embeddings and guardians from PostgreSQL.
type RegistryRepository struct {
	pool *Pool
}

// NewRegistryRepository creates a new PostgreSQL registry repository
func NewRegistryRepository(pool *Pool) *RegistryRepository {
	return &RegistryRepository{pool: pool}
}

// ListEnrolledIdentities returns every active student with its stored pose embeddings.
// Students without stored embeddings are returned with only their embedding path.
func (r *RegistryRepository) ListEnrolledIdentities(ctx context.Context) ([]database.EnrolledIdentity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.name, COALESCE(s.embedding_path, ''), e.embedding
		FROM students s
		LEFT JOIN student_embeddings e ON e.student_id = s.id
		WHERE s.active
		ORDER BY s.id, e.pose
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var identities []database.EnrolledIdentity
	for rows.Next() {
		var id, name, path string
		var vec *pgvector.Vector
		if err := rows.Scan(&id, &name, &path, &vec); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		if n := len(identities); n == 0 || identities[n-1].ID != id {
			identities = append(identities, database.EnrolledIdentity{ID: id, Name: name, EmbeddingPath: path})
		}
		if vec != nil {
			last := &identities[len(identities)-1]
			last.Embeddings = append(last.Embeddings, vec.Slice())
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil
}

// GetStudent retrieves a student by ID, returns nil if not found
func (r *RegistryRepository) GetStudent(ctx context.Context, studentID string) (*database.Student, error) {
	var s database.Student
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(embedding_path, ''), active
		FROM students
		WHERE id = $1
	`, studentID).Scan(&s.ID, &s.Name, &s.EmbeddingPath, &s.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query student: %w", err)
	}
	return &s, nil
}

// GetGuardians returns the guardians of a student
func (r *RegistryRepository) GetGuardians(ctx context.Context, studentID string) ([]database.Guardian, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, student_id, name, COALESCE(email, ''), COALESCE(phone, '')
		FROM guardians
		WHERE student_id = $1
		ORDER BY id
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var guardians []database.Guardian
	for rows.Next() {
		var g database.Guardian
		if err := rows.Scan(&g.ID, &g.StudentID, &g.Name, &g.Email, &g.Phone); err != nil {
			return nil, fmt.Errorf("scan guardian: %w", err)
		}
		guardians = append(guardians, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guardians: %w", err)
	}
	return guardians, nil
}

// UpsertStudent creates or updates a roster entry
func (r *RegistryRepository) UpsertStudent(ctx context.Context, s database.Student) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO students (id, name, embedding_path, active)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, embedding_path = EXCLUDED.embedding_path, active = EXCLUDED.active
	`, s.ID, s.Name, s.EmbeddingPath, s.Active)
	return err
}

// AddGuardian stores a guardian contact and returns its ID
func (r *RegistryRepository) AddGuardian(ctx context.Context, g database.Guardian) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO guardians (student_id, name, email, phone)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
		RETURNING id
	`, g.StudentID, g.Name, g.Email, g.Phone).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert guardian: %w", err)
	}
	return id, nil
}

// SaveEmbeddings replaces the stored pose embeddings of a student
func (r *RegistryRepository) SaveEmbeddings(ctx context.Context, studentID string, embeddings [][]float32) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM student_embeddings WHERE student_id = $1`, studentID); err != nil {
		return fmt.Errorf("delete old embeddings: %w", err)
	}
	for pose, emb := range embeddings {
		vec := pgvector.NewVector(emb)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO student_embeddings (student_id, pose, embedding)
			VALUES ($1, $2, $3)
		`, studentID, pose, vec); err != nil {
			return fmt.Errorf("insert embedding %d: %w", pose, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit embeddings: %w", err)
	}
	return nil
}
