package rbac

import "net/url"

type Role string
type Action string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleMember:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}

// Identity is the request-scoped view of the caller used for route gating.
type Identity struct {
	LoggedIn bool
	Role     Role
}

// RouteClass partitions frontend paths for the gate.
type RouteClass string

const (
	RouteAdmin   RouteClass = "admin"   // admin console
	RouteAuth    RouteClass = "auth"    // login / signup
	RoutePrivate RouteClass = "private" // member-only pages
	RoutePublic  RouteClass = "public"
)

// Decision tells the caller whether to serve the route or redirect elsewhere.
type Decision struct {
	Allow      bool   `json:"allow"`
	RedirectTo string `json:"redirectTo,omitempty"`
}

const (
	publicHome = "/"
	memberHome = "/scenario"
	loginPath  = "/login"
)

func ClassifyRoute(path string) RouteClass {
	switch {
	case hasPrefix(path, "/admin"):
		return RouteAdmin
	case hasPrefix(path, "/login"), hasPrefix(path, "/signup"):
		return RouteAuth
	case hasPrefix(path, "/scenario"), hasPrefix(path, "/profile"):
		return RoutePrivate
	default:
		return RoutePublic
	}
}

// DecideRoute evaluates the gate rules in order; the first match wins.
func DecideRoute(path string, id Identity) Decision {
	class := ClassifyRoute(path)

	if class == RouteAdmin && id.Role != RoleAdmin {
		return Decision{RedirectTo: publicHome}
	}
	if class == RouteAuth && id.LoggedIn {
		return Decision{RedirectTo: memberHome}
	}
	if class == RoutePrivate && !id.LoggedIn {
		return Decision{RedirectTo: loginPath + "?callbackUrl=" + url.QueryEscape(path)}
	}
	return Decision{Allow: true}
}

func hasPrefix(path, prefix string) bool {
	if len(path) < len(prefix) || path[:len(prefix)] != prefix {
		return false
	}
	// "/admin" must not match "/administrivia"
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
