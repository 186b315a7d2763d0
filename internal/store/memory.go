package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process. The map lock guards membership;
// each content entry carries its own mutex so different contents never
// contend on version log or pull request writes.
type MemoryStore struct {
	mu        sync.RWMutex
	contents  map[string]*contentEntry
	prContent map[string]string
	now       func() time.Time
}

type contentEntry struct {
	mu       sync.Mutex
	content  Content
	versions []Version // ascending by number
	prs      []PullRequest
	deleted  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contents:  make(map[string]*contentEntry),
		prContent: make(map[string]string),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// lock returns the locked entry for contentID. Callers must unlock it.
func (s *MemoryStore) lock(contentID string) (*contentEntry, error) {
	s.mu.RLock()
	entry, ok := s.contents[contentID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	entry.mu.Lock()
	if entry.deleted {
		entry.mu.Unlock()
		return nil, ErrNotFound
	}
	return entry, nil
}

func (e *contentEntry) snapshot() Content {
	out := e.content
	out.CollaboratorIDs = append([]string{}, e.content.CollaboratorIDs...)
	out.VersionIDs = make([]string, 0, len(e.versions))
	for _, v := range e.versions {
		out.VersionIDs = append(out.VersionIDs, v.ID)
	}
	if e.content.LatestVersionID != nil {
		latest := *e.content.LatestVersionID
		out.LatestVersionID = &latest
	}
	return out
}

func (e *contentEntry) versionByID(versionID string) (int, bool) {
	for i, v := range e.versions {
		if v.ID == versionID {
			return i, true
		}
	}
	return -1, false
}

func (e *contentEntry) prByID(prID string) (int, bool) {
	for i, pr := range e.prs {
		if pr.ID == prID {
			return i, true
		}
	}
	return -1, false
}

func cloneVersion(v Version) Version {
	v.Snapshot = append(json.RawMessage(nil), v.Snapshot...)
	return v
}

func clonePullRequest(pr PullRequest) PullRequest {
	pr.ReviewerIDs = append([]string{}, pr.ReviewerIDs...)
	return pr
}

func (s *MemoryStore) ListContent(_ context.Context, viewerID string) ([]Content, error) {
	s.mu.RLock()
	entries := make([]*contentEntry, 0, len(s.contents))
	for _, entry := range s.contents {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	items := make([]Content, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		if !entry.deleted && (entry.content.Visible || entry.content.HasCollaborator(viewerID)) {
			items = append(items, entry.snapshot())
		}
		entry.mu.Unlock()
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) GetContent(_ context.Context, contentID string) (Content, error) {
	entry, err := s.lock(contentID)
	if err != nil {
		return Content{}, err
	}
	defer entry.mu.Unlock()
	return entry.snapshot(), nil
}

func (s *MemoryStore) InsertContent(_ context.Context, item NewContent) (Content, error) {
	now := s.now()
	entry := &contentEntry{content: Content{
		ID:              item.ID,
		Title:           item.Title,
		Type:            item.Type,
		OwnerID:         item.OwnerID,
		CollaboratorIDs: uniqueStrings(append([]string{item.OwnerID}, item.Collaborators...)),
		Visible:         item.Visible,
		CreatedAt:       now,
		UpdatedAt:       now,
	}}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.contents[item.ID]; exists {
		return Content{}, fmt.Errorf("%w: content %s already exists", ErrConflict, item.ID)
	}
	s.contents[item.ID] = entry
	return entry.snapshot(), nil
}

func (s *MemoryStore) UpdateContentTitle(_ context.Context, contentID, title string) (Content, error) {
	entry, err := s.lock(contentID)
	if err != nil {
		return Content{}, err
	}
	defer entry.mu.Unlock()
	entry.content.Title = title
	entry.content.UpdatedAt = s.now()
	return entry.snapshot(), nil
}

func (s *MemoryStore) SetVisibility(_ context.Context, contentID string, visible bool) (Content, error) {
	entry, err := s.lock(contentID)
	if err != nil {
		return Content{}, err
	}
	defer entry.mu.Unlock()
	entry.content.Visible = visible
	entry.content.UpdatedAt = s.now()
	return entry.snapshot(), nil
}

func (s *MemoryStore) DeleteContent(_ context.Context, contentID string) error {
	entry, err := s.lock(contentID)
	if err != nil {
		return err
	}
	entry.deleted = true
	prs := entry.prs
	entry.mu.Unlock()

	s.mu.Lock()
	delete(s.contents, contentID)
	for _, pr := range prs {
		delete(s.prContent, pr.ID)
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) AddCollaborators(_ context.Context, contentID string, userIDs []string) (Content, error) {
	entry, err := s.lock(contentID)
	if err != nil {
		return Content{}, err
	}
	defer entry.mu.Unlock()
	entry.content.CollaboratorIDs = uniqueStrings(append(entry.content.CollaboratorIDs, userIDs...))
	entry.content.UpdatedAt = s.now()
	return entry.snapshot(), nil
}

func (s *MemoryStore) AppendVersion(_ context.Context, contentID string, input NewVersion) (Version, error) {
	entry, err := s.lock(contentID)
	if err != nil {
		return Version{}, err
	}
	defer entry.mu.Unlock()

	next := 1
	if n := len(entry.versions); n > 0 {
		next = entry.versions[n-1].Number + 1
	}
	now := s.now()
	version := Version{
		ID:            input.ID,
		ContentID:     contentID,
		Number:        next,
		Snapshot:      append(json.RawMessage(nil), input.Snapshot...),
		Message:       input.Message,
		ContributorID: input.ContributorID,
		Status:        VersionPendingReview,
		CreatedAt:     now,
	}
	entry.versions = append(entry.versions, version)
	latest := version.ID
	entry.content.LatestVersionID = &latest
	entry.content.UpdatedAt = now
	return cloneVersion(version), nil
}

func (s *MemoryStore) ListVersions(_ context.Context, contentID string) ([]Version, error) {
	entry, err := s.lock(contentID)
	if err != nil {
		return nil, err
	}
	defer entry.mu.Unlock()

	items := make([]Version, 0, len(entry.versions))
	for i := len(entry.versions) - 1; i >= 0; i-- {
		items = append(items, cloneVersion(entry.versions[i]))
	}
	return items, nil
}

func (s *MemoryStore) GetVersion(_ context.Context, contentID, versionID string) (Version, error) {
	entry, err := s.lock(contentID)
	if err != nil {
		return Version{}, err
	}
	defer entry.mu.Unlock()

	i, ok := entry.versionByID(versionID)
	if !ok {
		return Version{}, ErrNotFound
	}
	return cloneVersion(entry.versions[i]), nil
}

func (s *MemoryStore) RevertTo(_ context.Context, contentID string, number int) (Content, error) {
	entry, err := s.lock(contentID)
	if err != nil {
		return Content{}, err
	}
	defer entry.mu.Unlock()

	cut := -1
	for i, v := range entry.versions {
		if v.Number == number {
			cut = i
			break
		}
	}
	if cut < 0 {
		return Content{}, ErrNotFound
	}

	target := entry.versions[cut].ID
	removed := len(entry.versions) - cut - 1
	alreadyHead := entry.content.LatestVersionID != nil && *entry.content.LatestVersionID == target
	if removed == 0 && alreadyHead {
		return entry.snapshot(), nil
	}
	entry.versions = entry.versions[:cut+1:cut+1]
	entry.content.LatestVersionID = &target
	entry.content.UpdatedAt = s.now()
	return entry.snapshot(), nil
}

func (s *MemoryStore) UpdateVersionStatus(_ context.Context, contentID, versionID string, status VersionStatus) (Version, error) {
	entry, err := s.lock(contentID)
	if err != nil {
		return Version{}, err
	}
	defer entry.mu.Unlock()

	i, ok := entry.versionByID(versionID)
	if !ok {
		return Version{}, ErrNotFound
	}
	entry.versions[i].Status = status
	return cloneVersion(entry.versions[i]), nil
}

func (s *MemoryStore) InsertPullRequest(_ context.Context, input NewPullRequest) (PullRequest, error) {
	entry, err := s.lock(input.ContentID)
	if err != nil {
		return PullRequest{}, err
	}
	defer entry.mu.Unlock()

	if _, ok := entry.versionByID(input.SourceVersionID); !ok {
		return PullRequest{}, fmt.Errorf("source version %s: %w", input.SourceVersionID, ErrNotFound)
	}
	target := input.TargetVersionID
	if target == "" {
		if entry.content.LatestVersionID == nil {
			return PullRequest{}, fmt.Errorf("head version: %w", ErrNotFound)
		}
		target = *entry.content.LatestVersionID
	}
	if _, ok := entry.versionByID(target); !ok {
		return PullRequest{}, fmt.Errorf("target version %s: %w", target, ErrNotFound)
	}
	if target == input.SourceVersionID {
		return PullRequest{}, fmt.Errorf("%w: source and target versions must differ", ErrInvalid)
	}

	now := s.now()
	pr := PullRequest{
		ID:              input.ID,
		ContentID:       input.ContentID,
		SourceVersionID: input.SourceVersionID,
		TargetVersionID: target,
		AuthorID:        input.AuthorID,
		ReviewerIDs:     uniqueStrings(input.ReviewerIDs),
		Status:          PROpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	s.mu.Lock()
	if _, exists := s.prContent[pr.ID]; exists {
		s.mu.Unlock()
		return PullRequest{}, fmt.Errorf("%w: pull request %s already exists", ErrConflict, pr.ID)
	}
	s.prContent[pr.ID] = pr.ContentID
	s.mu.Unlock()

	entry.prs = append(entry.prs, pr)
	return clonePullRequest(pr), nil
}

// lockPullRequest returns the locked owning entry and the index of prID in it.
func (s *MemoryStore) lockPullRequest(prID string) (*contentEntry, int, error) {
	s.mu.RLock()
	contentID, ok := s.prContent[prID]
	s.mu.RUnlock()
	if !ok {
		return nil, 0, ErrNotFound
	}
	entry, err := s.lock(contentID)
	if err != nil {
		return nil, 0, err
	}
	i, ok := entry.prByID(prID)
	if !ok {
		entry.mu.Unlock()
		return nil, 0, ErrNotFound
	}
	return entry, i, nil
}

func (s *MemoryStore) GetPullRequest(_ context.Context, prID string) (PullRequest, error) {
	entry, i, err := s.lockPullRequest(prID)
	if err != nil {
		return PullRequest{}, err
	}
	defer entry.mu.Unlock()
	return clonePullRequest(entry.prs[i]), nil
}

func (s *MemoryStore) ListPullRequests(_ context.Context, contentID string) ([]PullRequest, error) {
	entry, err := s.lock(contentID)
	if err != nil {
		return nil, err
	}
	defer entry.mu.Unlock()

	items := make([]PullRequest, 0, len(entry.prs))
	for i := len(entry.prs) - 1; i >= 0; i-- {
		items = append(items, clonePullRequest(entry.prs[i]))
	}
	return items, nil
}

func (s *MemoryStore) TransitionPullRequest(_ context.Context, prID string, decide func(PullRequest) (Transition, error)) (PullRequest, error) {
	entry, i, err := s.lockPullRequest(prID)
	if err != nil {
		return PullRequest{}, err
	}
	defer entry.mu.Unlock()

	pr := entry.prs[i]
	next, err := decide(clonePullRequest(pr))
	if err != nil {
		return PullRequest{}, err
	}

	source, ok := entry.versionByID(pr.SourceVersionID)
	if !ok {
		return PullRequest{}, fmt.Errorf("%w: version %s no longer exists", ErrConflict, pr.SourceVersionID)
	}
	if _, ok := entry.versionByID(pr.TargetVersionID); !ok {
		return PullRequest{}, fmt.Errorf("%w: version %s no longer exists", ErrConflict, pr.TargetVersionID)
	}

	now := s.now()
	pr.Status = next.Status
	pr.UpdatedAt = now
	entry.prs[i] = pr
	if next.VersionStatus != "" {
		entry.versions[source].Status = next.VersionStatus
	}
	if next.AdoptSource {
		head := pr.SourceVersionID
		entry.content.LatestVersionID = &head
		entry.content.UpdatedAt = now
	}
	return clonePullRequest(pr), nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
