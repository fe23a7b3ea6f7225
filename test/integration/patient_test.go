//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/cardiodx/cardiodx/internal/domain/patient"
)

func TestPatientRepo_CRUD(t *testing.T) {
	clinic := newClinic(t, "pat")
	repo := patient.NewPatientRepoPG(globalPool)
	p := createTestPatient(t, clinic, "Ada Lovelace")

	withClinic(t, clinic, func(ctx context.Context) error {
		got, err := repo.GetByID(ctx, p.ID)
		if err != nil {
			return err
		}
		if got.FullName != "Ada Lovelace" || got.PatientID != p.PatientID {
			t.Errorf("fetched %+v", got)
		}
		if len(got.MedicalHistory) != 1 || got.MedicalHistory[0] != "hypertension" {
			t.Errorf("medical_history = %v", got.MedicalHistory)
		}

		got.Age = 59
		got.Phone = ptrStr("+14155550100")
		if err := repo.Update(ctx, got); err != nil {
			return err
		}
		again, err := repo.GetByID(ctx, p.ID)
		if err != nil {
			return err
		}
		if again.Age != 59 || again.Phone == nil || *again.Phone != "+14155550100" {
			t.Errorf("update not persisted: %+v", again)
		}

		items, total, err := repo.List(ctx, patient.ListParams{Search: "lovelace", Limit: 10})
		if err != nil {
			return err
		}
		if total != 1 || len(items) != 1 {
			t.Errorf("search returned %d/%d", len(items), total)
		}

		if err := repo.Delete(ctx, p.ID); err != nil {
			return err
		}
		if _, err := repo.GetByID(ctx, p.ID); !errors.Is(err, patient.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		return nil
	})
}

func TestPatientRepo_NotesAndFiles(t *testing.T) {
	clinic := newClinic(t, "patnotes")
	p := createTestPatient(t, clinic, "Grace Hopper")
	notes := patient.NewNoteRepoPG(globalPool)
	files := patient.NewFileRepoPG(globalPool)

	withClinic(t, clinic, func(ctx context.Context) error {
		n := &patient.Note{PatientID: p.ID, AuthorID: "doc-1", Content: "BP trending down", Visibility: "private"}
		if err := notes.Create(ctx, n); err != nil {
			return err
		}
		list, err := notes.ListByPatient(ctx, p.ID)
		if err != nil {
			return err
		}
		if len(list) != 1 || list[0].Content != "BP trending down" {
			t.Errorf("notes = %+v", list)
		}

		f := &patient.File{PatientID: p.ID, UploaderID: "doc-1", BlobID: "blob-1", FileName: "ecg.png",
			ContentType: "image/png", Size: 1024, FileType: patient.FileTypeDocument}
		if err := files.Create(ctx, f); err != nil {
			return err
		}
		fl, err := files.ListByPatient(ctx, p.ID)
		if err != nil {
			return err
		}
		if len(fl) != 1 || fl[0].BlobID != "blob-1" {
			t.Errorf("files = %+v", fl)
		}
		return nil
	})
}
