package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func snapshotFor(contentID string, number int) Snapshot {
	return Snapshot{
		ContentID:     contentID,
		Title:         "Intro",
		Number:        number,
		VersionID:     fmt.Sprintf("ver_%d", number),
		ContributorID: "Avery",
		Message:       fmt.Sprintf("edit %d", number),
		Body:          json.RawMessage(fmt.Sprintf(`{"blocks":[{"type":"paragraph","text":"rev %d"}]}`, number)),
	}
}

func snapshotOf(svc *Service, contentID, revision string) (Snapshot, error) {
	repo, err := svc.openRepo(contentID)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotAt(repo, revision)
}

func recordN(t *testing.T, svc *Service, contentID string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		if _, err := svc.RecordVersion(snapshotFor(contentID, i)); err != nil {
			t.Fatalf("RecordVersion(%d) error = %v", i, err)
		}
	}
}

func TestRecordVersionCreatesRepoAndTags(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	commit, err := svc.RecordVersion(snapshotFor("cnt_1", 1))
	if err != nil {
		t.Fatalf("RecordVersion() error = %v", err)
	}
	if commit.Hash == "" || commit.Message != "v1: edit 1" {
		t.Fatalf("unexpected commit: %+v", commit)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "cnt_1", snapshotFile)); err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}

	snap, err := snapshotOf(svc, "cnt_1", "v1")
	if err != nil {
		t.Fatalf("snapshotAt() error = %v", err)
	}
	if snap.Number != 1 || snap.VersionID != "ver_1" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestResetToDropsLaterVersions(t *testing.T) {
	svc := New(t.TempDir())
	recordN(t, svc, "cnt_1", 3)

	if _, err := svc.ResetTo("cnt_1", 1); err != nil {
		t.Fatalf("ResetTo() error = %v", err)
	}

	history, err := svc.History("cnt_1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 commit after reset, got %d", len(history))
	}
	if _, err := snapshotOf(svc, "cnt_1", "v3"); err == nil {
		t.Fatal("expected tag v3 to be removed")
	}

	head, err := snapshotOf(svc, "cnt_1", "HEAD")
	if err != nil {
		t.Fatalf("snapshotAt(HEAD) error = %v", err)
	}
	if head.Number != 1 {
		t.Fatalf("expected head at v1, got %+v", head)
	}

	// A re-submitted change receives number 2 again.
	again := snapshotFor("cnt_1", 2)
	again.VersionID = "ver_2b"
	if _, err := svc.RecordVersion(again); err != nil {
		t.Fatalf("RecordVersion() after reset error = %v", err)
	}
	snap, err := snapshotOf(svc, "cnt_1", "v2")
	if err != nil {
		t.Fatalf("snapshotAt(v2) error = %v", err)
	}
	if snap.VersionID != "ver_2b" {
		t.Fatalf("expected new v2, got %+v", snap)
	}
}

func TestPointHeadCommitsSourceSnapshot(t *testing.T) {
	svc := New(t.TempDir())
	recordN(t, svc, "cnt_1", 2)

	commit, err := svc.PointHead("cnt_1", 1, "Reviewer", "Merge pull request pr_1")
	if err != nil {
		t.Fatalf("PointHead() error = %v", err)
	}
	if commit.Author != "Reviewer" {
		t.Fatalf("unexpected merge author: %+v", commit)
	}

	head, err := snapshotOf(svc, "cnt_1", "HEAD")
	if err != nil {
		t.Fatalf("snapshotAt(HEAD) error = %v", err)
	}
	if head.Number != 1 || head.VersionID != "ver_1" {
		t.Fatalf("expected head to carry v1 snapshot, got %+v", head)
	}

	history, err := svc.History("cnt_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(history))
	}
}

func TestMissingMirror(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.History("nope", 5); !errors.Is(err, ErrNoMirror) {
		t.Fatalf("expected ErrNoMirror, got %v", err)
	}
	if _, err := svc.ResetTo("nope", 1); !errors.Is(err, ErrNoMirror) {
		t.Fatalf("expected ErrNoMirror, got %v", err)
	}
}

func TestRemoveDeletesMirror(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)
	recordN(t, svc, "cnt_1", 1)

	if err := svc.Remove("cnt_1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "cnt_1")); !os.IsNotExist(err) {
		t.Fatalf("expected mirror directory removed, got %v", err)
	}
}

func TestConcurrentRecordsAcrossContents(t *testing.T) {
	svc := New(t.TempDir())

	const contents = 6
	var wg sync.WaitGroup
	errCh := make(chan error, contents)
	for i := 0; i < contents; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			contentID := fmt.Sprintf("cnt_%02d", idx)
			for n := 1; n <= 3; n++ {
				if _, err := svc.RecordVersion(snapshotFor(contentID, n)); err != nil {
					errCh <- err
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("RecordVersion() concurrent error = %v", err)
	}
	for i := 0; i < contents; i++ {
		history, err := svc.History(fmt.Sprintf("cnt_%02d", i), 0)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(history) != 3 {
			t.Fatalf("expected 3 commits, got %d", len(history))
		}
	}
}

func TestRecordVersionRefusesStaleNumber(t *testing.T) {
	svc := New(t.TempDir())
	recordN(t, svc, "cnt_1", 1)
	if _, err := svc.RecordVersion(snapshotFor("cnt_1", 3)); err != nil {
		t.Fatalf("RecordVersion(3) error = %v", err)
	}

	_, err := svc.RecordVersion(snapshotFor("cnt_1", 2))
	if !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("expected ErrStaleVersion, got %v", err)
	}
	head, err := snapshotOf(svc, "cnt_1", "HEAD")
	if err != nil {
		t.Fatalf("snapshotAt(HEAD) error = %v", err)
	}
	if head.Number != 3 {
		t.Fatalf("expected main to stay on v3, got %+v", head)
	}
	if _, err := snapshotOf(svc, "cnt_1", "v2"); err == nil {
		t.Fatal("expected no v2 tag")
	}
}

func TestTagNumber(t *testing.T) {
	if n, ok := tagNumber("v12"); !ok || n != 12 {
		t.Fatalf("tagNumber(v12) = %d, %v", n, ok)
	}
	if _, ok := tagNumber("release"); ok {
		t.Fatal("expected non-version tag to be ignored")
	}
}
