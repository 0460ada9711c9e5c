// access_groups.go — администрирование групп подписчиков (groupType=subscribers).
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/quote-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/quote-module/internal/repository"
)

// groupMemberResponse — участник группы.
type groupMemberResponse struct {
	GroupID   string    `json:"groupId"`
	UserID    string    `json:"userId"`
	AddedBy   string    `json:"addedBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// groupMembersResponse — список участников группы.
type groupMembersResponse struct {
	GroupID string                `json:"groupId"`
	Members []groupMemberResponse `json:"members"`
}

func toGroupMemberResponse(m *repository.GroupMember) groupMemberResponse {
	return groupMemberResponse{
		GroupID:   m.GroupID,
		UserID:    m.UserID,
		AddedBy:   m.AddedBy,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

// AddGroupMember — PUT /api/admin/access-groups/{groupID}/members/{userID}.
// Повторное добавление возвращает существующую запись.
func (h *APIHandler) AddGroupMember(w http.ResponseWriter, r *http.Request) {
	member, err := h.groups.AddMember(r.Context(), middleware.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "groupID"), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, r, "добавление участника группы", err, errorOptions{})
		return
	}
	writeJSON(w, http.StatusOK, toGroupMemberResponse(member))
}

// RemoveGroupMember — DELETE /api/admin/access-groups/{groupID}/members/{userID}.
func (h *APIHandler) RemoveGroupMember(w http.ResponseWriter, r *http.Request) {
	err := h.groups.RemoveMember(r.Context(), middleware.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "groupID"), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, r, "удаление участника группы", err, errorOptions{})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListGroupMembers — GET /api/admin/access-groups/{groupID}/members.
func (h *APIHandler) ListGroupMembers(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	members, err := h.groups.ListMembers(r.Context(), middleware.PrincipalFromContext(r.Context()), groupID)
	if err != nil {
		h.writeServiceError(w, r, "получение участников группы", err, errorOptions{})
		return
	}

	resp := groupMembersResponse{GroupID: groupID, Members: make([]groupMemberResponse, 0, len(members))}
	for _, m := range members {
		resp.Members = append(resp.Members, toGroupMemberResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}
