package app

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) handleListContent(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	items, err := s.service.ListContent(r.Context(), session.UserID, ContentFilter{
		Query: r.URL.Query().Get("q"),
		Type:  strings.TrimSpace(r.URL.Query().Get("type")),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": items})
}

func (s *HTTPServer) handleCreateContent(w http.ResponseWriter, r *http.Request) {
	var input CreateContentInput
	if err := decodeBody(r, &input); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	item, err := s.service.CreateContent(r.Context(), sessionFrom(r).UserID, input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleGetContent(w http.ResponseWriter, r *http.Request) {
	item, err := s.service.GetContent(r.Context(), chi.URLParam(r, "contentID"), sessionFrom(r).UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleUpdateContent(w http.ResponseWriter, r *http.Request) {
	var input UpdateContentInput
	if err := decodeBody(r, &input); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	item, err := s.service.UpdateContent(r.Context(), chi.URLParam(r, "contentID"), sessionFrom(r).UserID, input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleDeleteContent(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteContent(r.Context(), chi.URLParam(r, "contentID"), sessionFrom(r).UserID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleListCollaborators(w http.ResponseWriter, r *http.Request) {
	ids, err := s.service.ListCollaborators(r.Context(), chi.URLParam(r, "contentID"), sessionFrom(r).UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collaborators": ids})
}

func (s *HTTPServer) handleAddCollaborators(w http.ResponseWriter, r *http.Request) {
	var input CollaboratorsInput
	if err := decodeBody(r, &input); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	item, err := s.service.AddCollaborators(r.Context(), chi.URLParam(r, "contentID"), sessionFrom(r).UserID, input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleSetVisibility(w http.ResponseWriter, r *http.Request) {
	var input VisibilityInput
	if err := decodeBody(r, &input); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	item, err := s.service.SetVisibility(r.Context(), chi.URLParam(r, "contentID"), sessionFrom(r).UserID, input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.service.ListVersions(r.Context(), chi.URLParam(r, "contentID"), sessionFrom(r).UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (s *HTTPServer) handleAppendVersion(w http.ResponseWriter, r *http.Request) {
	var input AppendVersionInput
	if err := decodeBody(r, &input); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	version, err := s.service.AppendVersion(r.Context(), chi.URLParam(r, "contentID"), sessionFrom(r).UserID, input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, version)
}

func (s *HTTPServer) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := s.service.GetVersion(r.Context(), chi.URLParam(r, "contentID"), chi.URLParam(r, "versionID"), sessionFrom(r).UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (s *HTTPServer) handleUpdateVersion(w http.ResponseWriter, r *http.Request) {
	var input UpdateVersionInput
	if err := decodeBody(r, &input); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	version, err := s.service.UpdateVersion(r.Context(), chi.URLParam(r, "contentID"), chi.URLParam(r, "versionID"), sessionFrom(r).UserID, input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (s *HTTPServer) handleRevert(w http.ResponseWriter, r *http.Request) {
	var input RevertInput
	if err := decodeBody(r, &input); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	item, err := s.service.RevertTo(r.Context(), chi.URLParam(r, "contentID"), sessionFrom(r).UserID, input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	commits, err := s.service.History(r.Context(), chi.URLParam(r, "contentID"), sessionFrom(r).UserID, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
}

func (s *HTTPServer) handleListPullRequests(w http.ResponseWriter, r *http.Request) {
	prs, err := s.service.ListPullRequests(r.Context(), chi.URLParam(r, "contentID"), sessionFrom(r).UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pullRequests": prs})
}

func (s *HTTPServer) handleOpenPullRequest(w http.ResponseWriter, r *http.Request) {
	var input OpenPullRequestInput
	if err := decodeBody(r, &input); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	pr, err := s.service.OpenPullRequest(r.Context(), chi.URLParam(r, "contentID"), sessionFrom(r).UserID, input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pr)
}

func (s *HTTPServer) handleGetPullRequest(w http.ResponseWriter, r *http.Request) {
	pr, err := s.service.GetPullRequest(r.Context(), chi.URLParam(r, "prID"), sessionFrom(r).UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

func (s *HTTPServer) handleTransitionPullRequest(w http.ResponseWriter, r *http.Request) {
	var input TransitionInput
	if err := decodeBody(r, &input); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	pr, err := s.service.TransitionPullRequest(r.Context(), chi.URLParam(r, "prID"), sessionFrom(r).UserID, input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	events, err := s.service.ListNotifications(r.Context(), sessionFrom(r).UserID, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": events})
}

func (s *HTTPServer) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	var input CreateNotificationInput
	if err := decodeBody(r, &input); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	event, err := s.service.CreateNotification(r.Context(), sessionFrom(r).UserID, input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}
