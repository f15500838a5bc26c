package drafts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"guias/api/internal/guide"
)

func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), ttl)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func sampleForm() guide.Request {
	return guide.Request{
		Tema:       "El ciclo del agua",
		Materiales: []string{"Papelotes", "Plumones"},
		Nivel:      "Primaria",
		Grado:      "4to",
		Duracion:   90,
		Competencias: []guide.Competency{{
			Nombre:     "Indaga mediante métodos científicos",
			Desempenos: []string{"Formula preguntas"},
		}},
	}
}

func TestSaveAndGetDraft(t *testing.T) {
	store, _ := setupTestRedis(t, time.Hour)
	fixed := time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()

	saved, err := store.Save(ctx, "ses-1", sampleForm())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !saved.SavedAt.Equal(fixed) {
		t.Fatalf("SavedAt = %v", saved.SavedAt)
	}

	got, err := store.Get(ctx, "ses-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SessionID != "ses-1" || got.Form.Tema != "El ciclo del agua" || got.Form.Duracion != 90 {
		t.Fatalf("snapshot = %+v", got)
	}
	if len(got.Form.Competencias) != 1 || got.Form.Competencias[0].Desempenos[0] != "Formula preguntas" {
		t.Fatalf("competencias = %+v", got.Form.Competencias)
	}
	if !got.SavedAt.Equal(fixed) {
		t.Fatalf("SavedAt after round trip = %v", got.SavedAt)
	}
}

func TestDraftExpires(t *testing.T) {
	store, s := setupTestRedis(t, time.Minute)
	ctx := context.Background()

	if _, err := store.Save(ctx, "ses-1", sampleForm()); err != nil {
		t.Fatal(err)
	}
	if ttl := s.TTL("draft:ses-1"); ttl != time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}
	s.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, "ses-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteDraft(t *testing.T) {
	store, _ := setupTestRedis(t, 0)
	ctx := context.Background()

	if _, err := store.Save(ctx, "ses-1", sampleForm()); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "ses-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "ses-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if err := store.Delete(ctx, "ses-1"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if store.ttl != DefaultTTL {
		t.Fatalf("ttl = %v, want default", store.ttl)
	}
}

func TestCorruptDraftIsReported(t *testing.T) {
	store, s := setupTestRedis(t, time.Hour)
	if err := s.Set("draft:ses-1", "\xff\x00"); err != nil {
		t.Fatal(err)
	}
	_, err := store.Get(context.Background(), "ses-1")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want decode error", err)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("://nope", time.Hour); err == nil {
		t.Fatal("expected parse error")
	}
}
