//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/cardiodx/cardiodx/internal/domain/inbox"
)

func TestNotificationRepo_FeedQueries(t *testing.T) {
	clinic := newClinic(t, "inbox")
	repo := inbox.NewNotificationRepoPG(globalPool)
	doctor := "doctor"

	withClinic(t, clinic, func(ctx context.Context) error {
		user := &inbox.Notification{Title: "Diagnosis saved", Message: "ok", Type: inbox.TypeSuccess,
			Audience: inbox.AudienceUser, RecipientUserID: ptrStr("doc-1"), Priority: inbox.PriorityNormal}
		all := &inbox.Notification{Title: "Mode changed", Message: "api", Type: inbox.TypeInfo,
			Audience: inbox.AudienceAll, Priority: inbox.PriorityHigh}
		role := &inbox.Notification{Title: "Doctors", Message: "hello", Type: inbox.TypeInfo,
			Audience: inbox.AudienceRole, RecipientRole: &doctor, Priority: inbox.PriorityNormal}
		admin := &inbox.Notification{Title: "High risk", Message: "patient", Type: inbox.TypeAlert,
			Audience: inbox.AudienceAdmin, RecipientRole: ptrStr("admin"), Priority: inbox.PriorityHigh,
			Metadata: map[string]string{"risk_level": "high"}}
		for _, n := range []*inbox.Notification{user, all, role, admin} {
			if err := repo.Create(ctx, n); err != nil {
				return err
			}
		}

		mine, err := repo.ListByRecipient(ctx, "doc-1", 10)
		if err != nil {
			return err
		}
		if len(mine) != 1 || mine[0].ID != user.ID {
			t.Errorf("ListByRecipient = %+v", mine)
		}
		broadcast, err := repo.ListByAudience(ctx, inbox.AudienceAll, 10)
		if err != nil {
			return err
		}
		if len(broadcast) != 1 {
			t.Errorf("ListByAudience = %d", len(broadcast))
		}
		byRole, err := repo.ListByRole(ctx, doctor, 10)
		if err != nil {
			return err
		}
		if len(byRole) != 1 || byRole[0].ID != role.ID {
			t.Errorf("ListByRole = %+v", byRole)
		}
		admins, err := repo.ListAdmin(ctx, 10)
		if err != nil {
			return err
		}
		if len(admins) != 1 || admins[0].Metadata["risk_level"] != "high" {
			t.Errorf("ListAdmin = %+v", admins)
		}

		n, err := repo.MarkRead(ctx, time.Now(), user.ID, all.ID)
		if err != nil {
			return err
		}
		if n != 2 {
			t.Errorf("MarkRead affected %d rows", n)
		}
		if n, _ := repo.MarkRead(ctx, time.Now(), user.ID); n != 0 {
			t.Errorf("second MarkRead affected %d rows", n)
		}
		got, err := repo.GetByID(ctx, user.ID)
		if err != nil {
			return err
		}
		if got.Unread() {
			t.Error("expected notification to be read")
		}
		return nil
	})
}
