package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gradewatch/internal/grades"
)

func TestNotifyInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock, "grade_events")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	term := 1
	n := grades.Notification{
		Instance:     "alice",
		ResourceCode: "R101",
		Resource:     grades.Resource{Title: "Algo", Term: &term},
		Evaluation: grades.Evaluation{
			ID:          12,
			Coef:        "2",
			Description: "TP1",
			Grade:       grades.Grade{Max: "20", Min: "5", Mean: "13", Value: "16"},
		},
		Affectation: "UE1",
		CycleID:     "cycle-1",
		DetectedAt:  now,
	}

	mock.ExpectExec("INSERT INTO grade_events").
		WithArgs(
			"alice", "R101", int64(12), "Algo", &term, "TP1", "2",
			"20", "5", "13", "16", "UE1", "cycle-1", now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, sink.Notify(context.Background(), n))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotifyExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO grade_events").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err = sink.Notify(context.Background(), grades.Notification{Instance: "alice"})
	require.ErrorContains(t, err, "insert grade event")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "grade_events")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "grades; DROP TABLE x")
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
