// Package gitrepo mirrors each content's version log into its own git
// repository: one commit per version on main, tagged v<number>.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const snapshotFile = "snapshot.json"

var (
	// ErrNoMirror means nothing has been recorded for the content yet.
	ErrNoMirror = errors.New("no mirror for content")
	// ErrStaleVersion means a later version is already on main.
	ErrStaleVersion = errors.New("stale version")
)

// Snapshot is the file committed for each version.
type Snapshot struct {
	ContentID     string          `json:"contentId"`
	Title         string          `json:"title"`
	Number        int             `json:"number"`
	VersionID     string          `json:"versionId"`
	ContributorID string          `json:"contributorId"`
	Message       string          `json:"message"`
	Body          json.RawMessage `json:"body"`
}

type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// RecordVersion commits snap on main and tags it v<number>, replacing a tag
// left by a discarded version with the same number. A number below the
// highest tag is refused with ErrStaleVersion and main is left alone.
func (s *Service) RecordVersion(snap Snapshot) (Commit, error) {
	lock := s.contentLock(snap.ContentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(snap.ContentID)
	if err != nil {
		return Commit{}, err
	}
	highest, err := highestTag(repo)
	if err != nil {
		return Commit{}, err
	}
	if snap.Number < highest {
		return Commit{}, fmt.Errorf("record v%d after v%d: %w", snap.Number, highest, ErrStaleVersion)
	}

	message := fmt.Sprintf("v%d", snap.Number)
	if strings.TrimSpace(snap.Message) != "" {
		message += ": " + snap.Message
	}
	hash, err := commitSnapshot(repo, snap, snap.ContributorID, message, false)
	if err != nil {
		return Commit{}, err
	}

	name := tagName(snap.Number)
	if err := repo.DeleteTag(name); err != nil && !errors.Is(err, git.ErrTagNotFound) {
		return Commit{}, fmt.Errorf("replace tag %s: %w", name, err)
	}
	_, err = repo.CreateTag(name, hash, &git.CreateTagOptions{
		Tagger:  signature(snap.ContributorID),
		Message: message,
	})
	if err != nil {
		return Commit{}, fmt.Errorf("create tag: %w", err)
	}
	return readCommit(repo, hash)
}

// ResetTo moves main back to the commit tagged v<number> and drops the tags
// of every later version.
func (s *Service) ResetTo(contentID string, number int) (Commit, error) {
	lock := s.contentLock(contentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openRepo(contentID)
	if err != nil {
		return Commit{}, err
	}
	hash, err := resolveHash(repo, tagName(number))
	if err != nil {
		return Commit{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, fmt.Errorf("open worktree: %w", err)
	}
	if err := worktree.Reset(&git.ResetOptions{Commit: hash, Mode: git.HardReset}); err != nil {
		return Commit{}, fmt.Errorf("reset main: %w", err)
	}

	tags, err := repo.Tags()
	if err != nil {
		return Commit{}, fmt.Errorf("list tags: %w", err)
	}
	var stale []string
	err = tags.ForEach(func(ref *plumbing.Reference) error {
		if n, ok := tagNumber(ref.Name().Short()); ok && n > number {
			stale = append(stale, ref.Name().Short())
		}
		return nil
	})
	if err != nil {
		return Commit{}, fmt.Errorf("iterate tags: %w", err)
	}
	for _, name := range stale {
		if err := repo.DeleteTag(name); err != nil {
			return Commit{}, fmt.Errorf("delete tag %s: %w", name, err)
		}
	}
	return readCommit(repo, hash)
}

// PointHead records a merge by committing the snapshot of version number on
// top of main.
func (s *Service) PointHead(contentID string, number int, actor, message string) (Commit, error) {
	lock := s.contentLock(contentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openRepo(contentID)
	if err != nil {
		return Commit{}, err
	}
	snap, err := snapshotAt(repo, tagName(number))
	if err != nil {
		return Commit{}, err
	}

	mergeMessage := fmt.Sprintf("%s\n\nmerge: source=%s actor=%s", message, tagName(number), actor)
	hash, err := commitSnapshot(repo, snap, actor, mergeMessage, true)
	if err != nil {
		return Commit{}, err
	}
	return readCommit(repo, hash)
}

// snapshotAt reads the snapshot at a revision such as "HEAD" or "v2".
func snapshotAt(repo *git.Repository, revision string) (Snapshot, error) {
	hash, err := resolveHash(repo, revision)
	if err != nil {
		return Snapshot{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read commit %s: %w", revision, err)
	}
	return readSnapshotFromCommit(commitObj)
}

func highestTag(repo *git.Repository) (int, error) {
	tags, err := repo.Tags()
	if err != nil {
		return 0, fmt.Errorf("list tags: %w", err)
	}
	highest := 0
	err = tags.ForEach(func(ref *plumbing.Reference) error {
		if n, ok := tagNumber(ref.Name().Short()); ok && n > highest {
			highest = n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("iterate tags: %w", err)
	}
	return highest, nil
}

func (s *Service) History(contentID string, limit int) ([]Commit, error) {
	lock := s.contentLock(contentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openRepo(contentID)
	if err != nil {
		return nil, err
	}

	ref, err := repo.Reference(plumbing.Main, true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Remove deletes the mirror of a deleted content.
func (s *Service) Remove(contentID string) error {
	lock := s.contentLock(contentID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(contentID)); err != nil {
		return fmt.Errorf("remove mirror: %w", err)
	}
	return nil
}

func (s *Service) repoPath(contentID string) string {
	return filepath.Join(s.baseDir, contentID)
}

func (s *Service) contentLock(contentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[contentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[contentID] = lock
	return lock
}

func (s *Service) openRepo(contentID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(contentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoMirror
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) ensureRepo(contentID string) (*git.Repository, error) {
	repo, err := s.openRepo(contentID)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, ErrNoMirror) {
		return nil, err
	}

	path := s.repoPath(contentID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func commitSnapshot(repo *git.Repository, snap Snapshot, author, message string, allowEmpty bool) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal snapshot: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add snapshot: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: allowEmpty,
		Author:            signature(author),
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit snapshot: %w", err)
	}
	return hash, nil
}

func readSnapshotFromCommit(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot bytes: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func readCommit(repo *git.Repository, hash plumbing.Hash) (Commit, error) {
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), nil
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func signature(userID string) *object.Signature {
	if userID == "" {
		userID = "draftline"
	}
	return &object.Signature{
		Name:  userID,
		Email: fmt.Sprintf("%s@local.draftline.dev", sanitizeEmail(userID)),
		When:  time.Now(),
	}
}

func tagName(number int) string {
	return "v" + strconv.Itoa(number)
}

func tagNumber(name string) (int, bool) {
	if !strings.HasPrefix(name, "v") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, "v"))
	if err != nil {
		return 0, false
	}
	return n, true
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, revision string) (plumbing.Hash, error) {
	resolved, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve %s: %w", revision, err)
	}
	return *resolved, nil
}
