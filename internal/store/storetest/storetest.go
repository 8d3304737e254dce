// Package storetest is a behavioral suite every store.Store backend must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ppiankov/cmdgate/internal/model"
	"github.com/ppiankov/cmdgate/internal/store"
)

// Run exercises a backend. open must return a fresh, empty store.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("missing permission", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		_, err := s.GetPermission(context.Background(), "ghost")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("upsert supersedes", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()
		granted := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		exp := granted.Add(24 * time.Hour)

		first := model.Permission{
			Identity: "phone-1", Level: model.LevelNormal, DeviceName: "Pixel",
			GrantedAt: granted, GrantedBy: "operator", ExpiresAt: &exp, Notes: "trial",
		}
		if err := s.UpsertPermission(ctx, first); err != nil {
			t.Fatal(err)
		}
		got, err := s.GetPermission(ctx, "phone-1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Level != model.LevelNormal || got.DeviceName != "Pixel" || got.GrantedBy != "operator" || got.Notes != "trial" {
			t.Errorf("unexpected permission %+v", got)
		}
		if !got.GrantedAt.Equal(granted) || got.ExpiresAt == nil || !got.ExpiresAt.Equal(exp) {
			t.Errorf("times not preserved: %+v", got)
		}

		second := model.Permission{Identity: "phone-1", Level: model.LevelAdmin, GrantedAt: granted.Add(time.Hour), GrantedBy: "operator"}
		if err := s.UpsertPermission(ctx, second); err != nil {
			t.Fatal(err)
		}
		got, _ = s.GetPermission(ctx, "phone-1")
		if got.Level != model.LevelAdmin || got.ExpiresAt != nil {
			t.Errorf("expected superseded grant, got %+v", got)
		}

		list, err := s.ListPermissions(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 1 {
			t.Errorf("expected one record per identity, got %d", len(list))
		}
	})

	t.Run("upsert validates", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()
		if err := s.UpsertPermission(ctx, model.Permission{Level: 2}); err == nil {
			t.Error("expected error for empty identity")
		}
		if err := s.UpsertPermission(ctx, model.Permission{Identity: "x", Level: 7}); err == nil {
			t.Error("expected error for invalid level")
		}
	})

	t.Run("list ordered", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for _, id := range []string{"c", "a", "b"} {
			if err := s.UpsertPermission(ctx, model.Permission{Identity: id, Level: 2, GrantedAt: now}); err != nil {
				t.Fatal(err)
			}
		}
		list, err := s.ListPermissions(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 3 || list[0].Identity != "a" || list[2].Identity != "c" {
			t.Errorf("expected identity order, got %+v", list)
		}
	})

	t.Run("audit append and filter", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		entries := []model.AuditEntry{
			{Identity: "a", Method: "system.ping", RequiredLevel: 1, Granted: true, Reason: "OK", Timestamp: base},
			{Identity: "a", Method: "file.write", RequiredLevel: 3, Granted: false, Reason: "Permission denied (2 < 3)", Timestamp: base.Add(time.Second)},
			{Identity: "b", Method: "file.read", RequiredLevel: 2, Granted: true, Reason: "OK", Timestamp: base.Add(2 * time.Second)},
		}
		for _, e := range entries {
			if err := s.AppendAudit(ctx, e); err != nil {
				t.Fatal(err)
			}
		}

		all, err := s.ListAudit(ctx, store.AuditFilter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(all))
		}
		if all[0].Identity != "b" || all[2].Method != "system.ping" {
			t.Errorf("expected newest first, got %+v", all)
		}
		if all[0].ID == 0 {
			t.Error("expected assigned id")
		}

		denied := false
		got, _ := s.ListAudit(ctx, store.AuditFilter{Granted: &denied})
		if len(got) != 1 || got[0].Reason != "Permission denied (2 < 3)" || got[0].RequiredLevel != model.LevelAdmin {
			t.Errorf("unexpected denied entries %+v", got)
		}

		got, _ = s.ListAudit(ctx, store.AuditFilter{Identity: "a", Limit: 1})
		if len(got) != 1 || got[0].Method != "file.write" {
			t.Errorf("unexpected limited entries %+v", got)
		}

		got, _ = s.ListAudit(ctx, store.AuditFilter{Since: base.Add(time.Second)})
		if len(got) != 2 {
			t.Errorf("expected 2 entries since, got %d", len(got))
		}

		got, _ = s.ListAudit(ctx, store.AuditFilter{Method: "file.read"})
		if len(got) != 1 || !got[0].Timestamp.Equal(base.Add(2*time.Second)) {
			t.Errorf("unexpected method filter result %+v", got)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := s.GetPermission(ctx, "a"); err == nil {
			t.Error("expected context error")
		}
	})
}
