package rbac

type Role string
type Action string

const (
	RoleReader Role = "reader"
	RoleWriter Role = "writer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionReact    Action = "react"
	ActionComment  Action = "comment"
	ActionResolve  Action = "resolve"
	ActionModerate Action = "moderate"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin, RoleEditor:
		return true
	case RoleWriter:
		return action == ActionRead || action == ActionReact || action == ActionComment || action == ActionResolve
	case RoleReader:
		return action == ActionRead || action == ActionReact
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleReader, RoleWriter, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleReader
	}
}

// CanEdit reports whether role may edit or delete a comment. Authors may
// always change their own comments.
func CanEdit(role Role, isAuthor bool) bool {
	if isAuthor {
		return Can(role, ActionComment)
	}
	return Can(role, ActionModerate)
}
