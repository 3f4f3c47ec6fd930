package models

// Role is a named permission profile constraining which tools an
// execution unit may invoke.
type Role string

const (
	RoleCoder      Role = "coder"
	RoleTester     Role = "tester"
	RoleCritic     Role = "critic"
	RoleResearcher Role = "researcher"
	RoleAdmin      Role = "admin"
)

// Valid returns true if the role is a known value.
func (r Role) Valid() bool {
	switch r {
	case RoleCoder, RoleTester, RoleCritic, RoleResearcher, RoleAdmin:
		return true
	default:
		return false
	}
}

// Roles lists every known role.
func Roles() []Role {
	return []Role{RoleCoder, RoleTester, RoleCritic, RoleResearcher, RoleAdmin}
}

// Tool identifies an operation category gated by policy.
type Tool string

const (
	ToolFilesystemRead  Tool = "filesystem_read"
	ToolFilesystemWrite Tool = "filesystem_write"
	ToolShell           Tool = "shell"
	ToolGit             Tool = "git"
	ToolHTTP            Tool = "http"
	ToolDocker          Tool = "docker"
)

// Valid returns true if the tool is a known value.
func (t Tool) Valid() bool {
	switch t {
	case ToolFilesystemRead, ToolFilesystemWrite, ToolShell, ToolGit, ToolHTTP, ToolDocker:
		return true
	default:
		return false
	}
}
