package rbac

type Role string
type Action string

const (
	RoleNone     Role = ""
	RoleViewer   Role = "viewer"
	RoleReviewer Role = "reviewer"
	RoleEditor   Role = "editor"
	RoleOwner    Role = "owner"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionReview Action = "review"
	ActionAdmin  Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionWrite || action == ActionReview
	case RoleReviewer:
		return action == ActionRead || action == ActionReview
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// ContentAccess is the caller's relationship to one content item.
type ContentAccess struct {
	Owner        bool
	Collaborator bool
	Reviewer     bool
	Visible      bool
}

// Resolve derives the caller's role. Hidden content grants nothing to
// outsiders, so they cannot tell it apart from missing content.
func Resolve(access ContentAccess) Role {
	switch {
	case access.Owner:
		return RoleOwner
	case access.Collaborator:
		return RoleEditor
	case access.Reviewer:
		return RoleReviewer
	case access.Visible:
		return RoleViewer
	default:
		return RoleNone
	}
}
