package pg

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nextlevelbuilder/taskloom/internal/model"
)

func TestNextOrderAfterInsert(t *testing.T) {
	tests := []struct {
		name       string
		n          int
		afterOrder int
		want       int
		wantErr    bool
	}{
		{"insert at head of empty list", 0, 0, 1, false},
		{"insert at head of non-empty list", 5, 0, 1, false},
		{"insert at tail", 5, 5, 6, false},
		{"insert in the middle", 5, 2, 3, false},
		{"after_order negative", 5, -1, 0, true},
		{"after_order past the end", 5, 6, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nextOrderAfterInsert(tt.n, tt.afterOrder)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("nextOrderAfterInsert(%d, %d) = %d, nil; want error", tt.n, tt.afterOrder, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("nextOrderAfterInsert(%d, %d) unexpected error: %v", tt.n, tt.afterOrder, err)
			}
			if got != tt.want {
				t.Errorf("nextOrderAfterInsert(%d, %d) = %d, want %d", tt.n, tt.afterOrder, got, tt.want)
			}
		})
	}
}

// signFlipReorder is a pure Go model of InsertTaskTx's two UPDATE
// statements: shift every order past the insertion point into negative
// space, then flip it back to positive, one slot further out. It exists
// only to prove the invariant the SQL relies on — that the shift never
// produces a transient collision with an order still in use, and always
// ends on a dense 1..n+1 sequence — without requiring a database.
func signFlipReorder(orders []int, afterOrder int) []int {
	shifted := make([]int, len(orders))
	for i, o := range orders {
		if o > afterOrder {
			o = -o
		}
		shifted[i] = o
	}
	for i, o := range shifted {
		if o < 0 {
			shifted[i] = -o + 1
		}
	}
	return shifted
}

func TestSignFlipReorder(t *testing.T) {
	tests := []struct {
		name       string
		orders     []int
		afterOrder int
		want       []int
	}{
		{"insert at head", []int{1, 2, 3, 4}, 0, []int{2, 3, 4, 5}},
		{"insert in the middle", []int{1, 2, 3, 4}, 2, []int{1, 2, 4, 5}},
		{"insert at tail leaves everything untouched", []int{1, 2, 3, 4}, 4, []int{1, 2, 3, 4}},
		{"single task list", []int{1}, 0, []int{2}},
		{"empty list", []int{}, 0, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := signFlipReorder(tt.orders, tt.afterOrder)
			if len(got) != len(tt.want) {
				t.Fatalf("signFlipReorder(%v, %d) = %v, want %v", tt.orders, tt.afterOrder, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("signFlipReorder(%v, %d)[%d] = %d, want %d", tt.orders, tt.afterOrder, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSignFlipReorder_NeverCollidesOrLeavesGaps(t *testing.T) {
	for n := 1; n <= 8; n++ {
		orders := make([]int, n)
		for i := range orders {
			orders[i] = i + 1
		}
		for afterOrder := 0; afterOrder <= n; afterOrder++ {
			shifted := signFlipReorder(orders, afterOrder)
			seen := map[int]bool{afterOrder + 1: true} // the slot the new task takes
			for _, o := range shifted {
				if seen[o] {
					t.Fatalf("n=%d afterOrder=%d: order %d collides after reorder %v", n, afterOrder, o, shifted)
				}
				seen[o] = true
			}
			for want := 1; want <= n+1; want++ {
				if !seen[want] {
					t.Fatalf("n=%d afterOrder=%d: order %d missing from reorder+insert result %v (+new task)", n, afterOrder, want, shifted)
				}
			}
		}
	}
}

// fakeRow implements pgx.Row (a single Scan method) for scanTaskRow tests.
type fakeRow struct {
	id            uuid.UUID
	sessionID     uuid.UUID
	order         int
	data          json.RawMessage
	status        model.Status
	isPlanning    bool
	spaceDigested bool
	createdAt     time.Time
	updatedAt     time.Time
	err           error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*uuid.UUID)) = r.id
	*(dest[1].(*uuid.UUID)) = r.sessionID
	*(dest[2].(*int)) = r.order
	*(dest[3].(*json.RawMessage)) = r.data
	*(dest[4].(*model.Status)) = r.status
	*(dest[5].(*bool)) = r.isPlanning
	*(dest[6].(*bool)) = r.spaceDigested
	*(dest[7].(*time.Time)) = r.createdAt
	*(dest[8].(*time.Time)) = r.updatedAt
	return nil
}

func TestScanTaskRow(t *testing.T) {
	id := uuid.New()
	sessionID := uuid.New()
	now := time.Now()

	t.Run("decodes data JSON", func(t *testing.T) {
		row := fakeRow{
			id: id, sessionID: sessionID, order: 3,
			data: json.RawMessage(`{"task_description":"ship it"}`),
			status: model.StatusPending, createdAt: now, updatedAt: now,
		}
		var task model.Task
		if err := scanTaskRow(row, &task); err != nil {
			t.Fatalf("scanTaskRow() error = %v", err)
		}
		if task.Description() != "ship it" {
			t.Errorf("Description() = %q, want %q", task.Description(), "ship it")
		}
		if task.ID != id || task.SessionID != sessionID || task.Order != 3 {
			t.Errorf("scanTaskRow() = %+v, missing scalar fields", task)
		}
	})

	t.Run("malformed data JSON errors", func(t *testing.T) {
		row := fakeRow{id: id, sessionID: sessionID, data: json.RawMessage(`not json`), status: model.StatusPending}
		var task model.Task
		if err := scanTaskRow(row, &task); err == nil {
			t.Fatal("scanTaskRow() with malformed data, want error")
		}
	})

	t.Run("empty data leaves Data unset", func(t *testing.T) {
		row := fakeRow{id: id, sessionID: sessionID, status: model.StatusPending}
		var task model.Task
		if err := scanTaskRow(row, &task); err != nil {
			t.Fatalf("scanTaskRow() error = %v", err)
		}
		if task.Data != nil {
			t.Errorf("Data = %v, want nil", task.Data)
		}
	})

	t.Run("propagates row error", func(t *testing.T) {
		row := fakeRow{err: fmt.Errorf("boom")}
		var task model.Task
		if err := scanTaskRow(row, &task); err == nil {
			t.Fatal("scanTaskRow() want propagated error")
		}
	})
}

// fakeRows implements pgx.Rows over an in-memory slice of fakeRow values,
// for scanTasks tests.
type fakeRows struct {
	rows []fakeRow
	pos  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}
func (r *fakeRows) Scan(dest ...any) error { return r.rows[r.pos-1].Scan(dest...) }
func (r *fakeRows) Values() ([]any, error) { return nil, nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

func TestScanTasks(t *testing.T) {
	now := time.Now()
	rows := &fakeRows{rows: []fakeRow{
		{id: uuid.New(), order: 1, status: model.StatusPending, createdAt: now, updatedAt: now},
		{id: uuid.New(), order: 2, status: model.StatusRunning, data: json.RawMessage(`{"task_description":"b"}`), createdAt: now, updatedAt: now},
	}}
	tasks, err := scanTasks(rows)
	if err != nil {
		t.Fatalf("scanTasks() error = %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("scanTasks() returned %d tasks, want 2", len(tasks))
	}
	if tasks[0].Order != 1 || tasks[1].Order != 2 {
		t.Errorf("scanTasks() order mismatch: %+v", tasks)
	}
	if tasks[1].Description() != "b" {
		t.Errorf("tasks[1].Description() = %q, want %q", tasks[1].Description(), "b")
	}
}
