package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"draftsync/internal/models"
)

func TestMemoryDocumentCRUD(t *testing.T) {
	repo := NewMemoryDocumentRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, &models.DocumentCreate{
		Title:   "Meeting notes",
		Content: "agenda",
		OwnerID: "alice",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}
	if created.Format != models.FormatMarkdown {
		t.Fatalf("expected default format %q, got %q", models.FormatMarkdown, created.Format)
	}

	got, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Content != "agenda" {
		t.Fatalf("content = %q", got.Content)
	}

	// Returned documents are copies; mutating one must not leak back.
	got.Content = "scribbled over"
	again, _ := repo.GetByID(ctx, created.ID)
	if again.Content != "agenda" {
		t.Fatal("stored document aliased a returned copy")
	}

	title := "Renamed"
	updated, err := repo.Update(ctx, created.ID, &models.DocumentUpdate{Title: &title})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Title != "Renamed" || updated.Content != "agenda" {
		t.Fatalf("partial update wrong: %+v", updated)
	}

	if err := repo.UpdateContent(ctx, created.ID, "flattened text"); err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}
	got, _ = repo.GetByID(ctx, created.ID)
	if got.Content != "flattened text" {
		t.Fatalf("content after UpdateContent = %q", got.Content)
	}

	if err := repo.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.GetByID(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryDocumentListOrdersNewestFirst(t *testing.T) {
	repo := NewMemoryDocumentRepository()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		doc, err := repo.Create(ctx, &models.DocumentCreate{Title: fmt.Sprintf("doc-%d", i)})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, doc.ID)
	}

	listed, err := repo.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("listed %d documents", len(listed))
	}
	if listed[0].ID != ids[2] {
		t.Fatalf("expected newest first, got %s", listed[0].Title)
	}

	page, err := repo.List(ctx, 1, 1)
	if err != nil {
		t.Fatalf("List page: %v", err)
	}
	if len(page) != 1 || page[0].ID != ids[1] {
		t.Fatalf("pagination wrong: %+v", page)
	}
}

func TestMemoryDocumentMissingID(t *testing.T) {
	repo := NewMemoryDocumentRepository()
	ctx := context.Background()

	if _, err := repo.GetByID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByID: %v", err)
	}
	if err := repo.UpdateContent(ctx, "nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateContent: %v", err)
	}
	if err := repo.Delete(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete: %v", err)
	}
}

func TestMemoryUpdateLog(t *testing.T) {
	repo := NewMemoryUpdateRepository()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		payload := []byte(fmt.Sprintf("update-%d", i))
		if err := repo.Append(ctx, "doc-1", "alice", payload, int64(i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	history, err := repo.History(ctx, "doc-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("history length %d", len(history))
	}
	if history[0].Version != 1 || history[4].Version != 5 {
		t.Fatal("history not oldest-first")
	}

	latest, err := repo.Latest(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest == nil || latest.Version != 5 {
		t.Fatalf("latest = %+v", latest)
	}

	since, err := repo.Since(ctx, "doc-1", history[2].ID)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(since) != 2 || since[0].Version != 4 {
		t.Fatalf("since wrong: %d records", len(since))
	}

	if err := repo.Trim(ctx, "doc-1", 2); err != nil {
		t.Fatalf("Trim: %v", err)
	}
	history, _ = repo.History(ctx, "doc-1")
	if len(history) != 2 || history[0].Version != 4 {
		t.Fatalf("trim kept wrong records: %d", len(history))
	}

	// Other documents are untouched and an empty log reports no latest.
	latest, err = repo.Latest(ctx, "doc-2")
	if err != nil || latest != nil {
		t.Fatalf("empty log: latest=%v err=%v", latest, err)
	}
}
