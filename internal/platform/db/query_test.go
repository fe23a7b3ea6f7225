package db

import "testing"

func TestQueryBasic(t *testing.T) {
	q := NewQuery("patients", "id, full_name")
	q.OrderBy("created_at DESC")

	if got := q.CountSQL(); got != "SELECT COUNT(*) FROM patients WHERE 1=1" {
		t.Errorf("unexpected count sql: %s", got)
	}
	want := "SELECT id, full_name FROM patients WHERE 1=1 ORDER BY created_at DESC LIMIT $1 OFFSET $2"
	if got := q.DataSQL(20, 0); got != want {
		t.Errorf("unexpected data sql:\n got %s\nwant %s", got, want)
	}
	if args := q.DataArgs(20, 40); len(args) != 2 || args[0] != 20 || args[1] != 40 {
		t.Errorf("unexpected args %v", args)
	}
}

func TestQueryFilters(t *testing.T) {
	q := NewQuery("patients", "id")
	q.Eq("assigned_doctor_id", "doc-1")
	q.Eq("gender", "")
	q.Contains("ann_%", "full_name", "patient_id")

	want := "SELECT COUNT(*) FROM patients WHERE 1=1 AND assigned_doctor_id = $1 AND (full_name ILIKE $2 OR patient_id ILIKE $2)"
	if got := q.CountSQL(); got != want {
		t.Errorf("unexpected sql:\n got %s\nwant %s", got, want)
	}
	args := q.CountArgs()
	if len(args) != 2 || args[1] != `%ann\_\%%` {
		t.Errorf("unexpected args %v", args)
	}
	if q.Idx() != 3 {
		t.Errorf("expected next index 3, got %d", q.Idx())
	}
	if got := q.DataSQL(10, 0); got != "SELECT id FROM patients WHERE 1=1 AND assigned_doctor_id = $1 AND (full_name ILIKE $2 OR patient_id ILIKE $2) LIMIT $3 OFFSET $4" {
		t.Errorf("unexpected data sql %s", got)
	}
}

func TestQueryContainsSkipsBlank(t *testing.T) {
	q := NewQuery("t", "id")
	q.Contains("   ", "name")
	if q.Idx() != 1 || len(q.CountArgs()) != 0 {
		t.Error("blank term should not add a clause")
	}
}
