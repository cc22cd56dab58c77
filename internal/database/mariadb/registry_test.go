package mariadb

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockDB(t *testing.T) (*Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return NewPoolFromDB(db), mock
}

func TestListEnrolledIdentities(t *testing.T) {
	pool, mock := newMockDB(t)

	mock.ExpectQuery(`FROM students WHERE is_active = 1`).
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "full_name", "embedding_path", "embeddings_json"}).
			AddRow("s1", "Alice", "", []byte(`[[1,0,0],[0,1,0],[0,0,1]]`)).
			AddRow("s2", "Bob", "/data/s2.json", nil))

	identities, err := pool.ListEnrolledIdentities(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(identities) != 2 {
		t.Fatalf("expected 2 identities, got %d", len(identities))
	}
	if len(identities[0].Embeddings) != 3 || identities[0].Embeddings[2][2] != 1 {
		t.Errorf("unexpected embeddings: %v", identities[0].Embeddings)
	}
	if identities[1].EmbeddingPath != "/data/s2.json" || len(identities[1].Embeddings) != 0 {
		t.Errorf("unexpected file-based identity: %+v", identities[1])
	}
}

func TestListEnrolledIdentities_BadJSON(t *testing.T) {
	pool, mock := newMockDB(t)

	mock.ExpectQuery(`FROM students`).
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "full_name", "embedding_path", "embeddings_json"}).
			AddRow("s1", "Alice", "", []byte(`[[1,0,0]]`)).
			AddRow("s2", "Bob", "", []byte(`[[1,0,`)).
			AddRow("s3", "Cyril", "", []byte(`[[0,1,0]]`)))

	identities, err := pool.ListEnrolledIdentities(context.Background())
	if err != nil {
		t.Fatalf("a single undecodable row must not fail the listing: %v", err)
	}
	if len(identities) != 3 {
		t.Fatalf("expected 3 identities, got %d", len(identities))
	}
	if identities[1].EmbeddingsErr == nil || len(identities[1].Embeddings) != 0 {
		t.Errorf("expected s2 to carry a decode error and no vectors, got %+v", identities[1])
	}
	for _, i := range []int{0, 2} {
		if identities[i].EmbeddingsErr != nil || len(identities[i].Embeddings) != 1 {
			t.Errorf("expected %s to decode cleanly, got %+v", identities[i].ID, identities[i])
		}
	}
}

func TestGetStudent(t *testing.T) {
	pool, mock := newMockDB(t)

	mock.ExpectQuery(`FROM students WHERE student_id = \?`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "full_name", "embedding_path", "is_active"}).
			AddRow("s1", "Alice", "", true))

	s, err := pool.GetStudent(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s == nil || s.Name != "Alice" || !s.Active {
		t.Errorf("unexpected student: %+v", s)
	}
}

func TestGetStudent_NotFound(t *testing.T) {
	pool, mock := newMockDB(t)

	mock.ExpectQuery(`FROM students WHERE student_id = \?`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "full_name", "embedding_path", "is_active"}))

	s, err := pool.GetStudent(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != nil {
		t.Errorf("expected nil, got %+v", s)
	}
}

func TestGetGuardians(t *testing.T) {
	pool, mock := newMockDB(t)

	mock.ExpectQuery(`FROM guardians WHERE student_id = \?`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "full_name", "email", "phone"}).
			AddRow(int64(1), "s1", "Jana", "jana@example.com", "").
			AddRow(int64(2), "s1", "Petr", "", "+420600000000"))

	guardians, err := pool.GetGuardians(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(guardians) != 2 {
		t.Fatalf("expected 2 guardians, got %d", len(guardians))
	}
	if guardians[0].Email != "jana@example.com" || guardians[1].Phone != "+420600000000" {
		t.Errorf("unexpected guardians: %+v", guardians)
	}
}

func TestGetGuardians_QueryError(t *testing.T) {
	pool, mock := newMockDB(t)

	mock.ExpectQuery(`FROM guardians`).WillReturnError(errors.New("connection refused"))

	if _, err := pool.GetGuardians(context.Background(), "s1"); err == nil {
		t.Fatal("expected error")
	}
}
