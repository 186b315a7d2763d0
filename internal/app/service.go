package app

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"draftline/api/internal/auth"
	"draftline/api/internal/config"
	"draftline/api/internal/gitrepo"
	"draftline/api/internal/metrics"
	"draftline/api/internal/notify"
	"draftline/api/internal/rbac"
	"draftline/api/internal/search"
	"draftline/api/internal/store"
	"draftline/api/internal/util"
)

type Session struct {
	UserID    string
	UserName  string
	ExpiresAt time.Time
}

type Store interface {
	ListContent(context.Context, string) ([]store.Content, error)
	GetContent(context.Context, string) (store.Content, error)
	InsertContent(context.Context, store.NewContent) (store.Content, error)
	UpdateContentTitle(context.Context, string, string) (store.Content, error)
	SetVisibility(context.Context, string, bool) (store.Content, error)
	DeleteContent(context.Context, string) error
	AddCollaborators(context.Context, string, []string) (store.Content, error)
	AppendVersion(context.Context, string, store.NewVersion) (store.Version, error)
	ListVersions(context.Context, string) ([]store.Version, error)
	GetVersion(context.Context, string, string) (store.Version, error)
	RevertTo(context.Context, string, int) (store.Content, error)
	UpdateVersionStatus(context.Context, string, string, store.VersionStatus) (store.Version, error)
	InsertPullRequest(context.Context, store.NewPullRequest) (store.PullRequest, error)
	GetPullRequest(context.Context, string) (store.PullRequest, error)
	ListPullRequests(context.Context, string) ([]store.PullRequest, error)
	TransitionPullRequest(context.Context, string, func(store.PullRequest) (store.Transition, error)) (store.PullRequest, error)
	Ping(context.Context) error
}

// snapshotMirror is the git replica of each version log.
type snapshotMirror interface {
	RecordVersion(gitrepo.Snapshot) (gitrepo.Commit, error)
	ResetTo(contentID string, number int) (gitrepo.Commit, error)
	PointHead(contentID string, number int, actor, message string) (gitrepo.Commit, error)
	History(contentID string, limit int) ([]gitrepo.Commit, error)
	Remove(contentID string) error
}

type contentIndex interface {
	Search(context.Context, search.Query) (search.Response, error)
	IndexContent(search.ContentRecord)
	DeleteContent(string)
}

// Options wires the optional collaborators. Nil fields disable the feature.
type Options struct {
	Notifier *notify.Bridge
	Inbox    notify.Inbox
	Mirror   *gitrepo.Service
	Search   *search.Service
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

type Service struct {
	cfg      config.Config
	store    Store
	notifier *notify.Bridge
	inbox    notify.Inbox
	mirror   snapshotMirror
	search   contentIndex
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	validate *validator.Validate

	mirrorMu    sync.Mutex
	mirrorLocks map[string]*sync.Mutex
}

func New(cfg config.Config, ds Store, opts Options) *Service {
	svc := &Service{
		cfg:         cfg,
		store:       ds,
		notifier:    opts.Notifier,
		inbox:       opts.Inbox,
		metrics:     opts.Metrics,
		logger:      opts.Logger.With().Str("component", "app").Logger(),
		validate:    newValidator(),
		mirrorLocks: make(map[string]*sync.Mutex),
	}
	if opts.Mirror != nil {
		svc.mirror = opts.Mirror
	}
	if opts.Search != nil {
		svc.search = opts.Search
	}
	return svc
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type pinger interface {
	Ping(context.Context) error
}

// Checks pings each backend that can answer, keyed by name.
func (s *Service) Checks(ctx context.Context) map[string]error {
	checks := map[string]error{"store": s.store.Ping(ctx)}
	if inbox, ok := s.inbox.(pinger); ok {
		checks["inbox"] = inbox.Ping(ctx)
	}
	return checks
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	session := Session{UserID: claims.Subject, UserName: claims.Name}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	if session.UserName == "" {
		session.UserName = session.UserID
	}
	return session, nil
}

func (s *Service) validateInput(input any) error {
	if err := s.validate.Struct(input); err != nil {
		if details, ok := validationDetails(err); ok {
			return validationError("Invalid request", details)
		}
		return validationError(err.Error(), nil)
	}
	return nil
}

// roleFor resolves userID's role on item. Reviewers of any pull request on the
// content may read and review it even when it is hidden.
func (s *Service) roleFor(ctx context.Context, item store.Content, userID string) (rbac.Role, error) {
	access := rbac.ContentAccess{
		Owner:        item.OwnerID == userID,
		Collaborator: item.HasCollaborator(userID),
		Visible:      item.Visible,
	}
	if !access.Owner && !access.Collaborator {
		prs, err := s.store.ListPullRequests(ctx, item.ID)
		if err != nil {
			return rbac.RoleNone, s.storeError(err, "content")
		}
		for _, pr := range prs {
			if pr.HasReviewer(userID) {
				access.Reviewer = true
				break
			}
		}
	}
	return rbac.Resolve(access), nil
}

// authorize loads the content and checks userID may perform action on it.
// Callers without any role get NOT_FOUND so hidden content stays hidden.
func (s *Service) authorize(ctx context.Context, contentID, userID string, action rbac.Action) (store.Content, error) {
	item, err := s.store.GetContent(ctx, contentID)
	if err != nil {
		return store.Content{}, s.storeError(err, "content")
	}
	role, err := s.roleFor(ctx, item, userID)
	if err != nil {
		return store.Content{}, err
	}
	if role == rbac.RoleNone {
		return store.Content{}, notFound("content")
	}
	if !rbac.Can(role, action) {
		return store.Content{}, forbidden()
	}
	return item, nil
}

func (s *Service) emit(ctx context.Context, eventType notify.EventType, item store.Content, actorID string, extra []string, payload map[string]any) {
	s.notifier.Push(ctx, notify.Event{
		ID:         util.NewID("ntf"),
		Type:       eventType,
		ContentID:  item.ID,
		ActorID:    actorID,
		Recipients: notify.Recipients(actorID, item.CollaboratorIDs, extra),
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	})
}

func (s *Service) indexContent(item store.Content) {
	if s.search == nil {
		return
	}
	s.search.IndexContent(search.ContentRecord{
		ID:      item.ID,
		Title:   item.Title,
		Type:    string(item.Type),
		OwnerID: item.OwnerID,
		Visible: item.Visible,
	})
}

// lockMirror holds a content's mirror slot from the store write until the
// matching mirror write, so git replays the log in commit order.
func (s *Service) lockMirror(contentID string) func() {
	if s.mirror == nil {
		return func() {}
	}
	s.mirrorMu.Lock()
	lock, ok := s.mirrorLocks[contentID]
	if !ok {
		lock = &sync.Mutex{}
		s.mirrorLocks[contentID] = lock
	}
	s.mirrorMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (s *Service) mirrorWarn(err error, contentID, op string) {
	if err == nil {
		return
	}
	s.logger.Warn().Err(err).Str("content_id", contentID).Str("op", op).Msg("snapshot mirror update failed")
}
