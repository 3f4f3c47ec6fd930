package policy

import (
	"time"

	"github.com/hiveworks/swarmd/pkg/models"
)

// defaultGitBlacklist denies history-rewriting and destructive git
// operations for every non-admin role.
var defaultGitBlacklist = []string{
	"push --force",
	"push -f",
	"reset --hard",
	"rebase -i",
	"rebase --interactive",
	"filter-branch",
	"clean -fd",
}

// DefaultRoles returns the built-in role set. Deployments override it
// from configuration at startup; the engine never reloads it.
func DefaultRoles() map[models.Role]RolePolicy {
	return map[models.Role]RolePolicy{
		models.RoleCoder: {
			AllowedTools: []models.Tool{
				models.ToolFilesystemRead, models.ToolFilesystemWrite,
				models.ToolShell, models.ToolGit,
			},
			ShellWhitelist: []string{
				"go", "mix", "npm", "pnpm", "yarn", "make", "cargo",
				"python", "pytest", "ls", "cat", "grep", "find",
				"mkdir", "touch", "echo", "sed", "awk",
			},
			GitBlacklist: defaultGitBlacklist,
			AllowWrites:  true,
			WritePaths:   []string{"./", "/tmp/"},
			MaxTimeout:   10 * time.Minute,
			Network:      NetworkDeny,
		},
		models.RoleTester: {
			AllowedTools: []models.Tool{
				models.ToolFilesystemRead, models.ToolShell, models.ToolDocker,
			},
			ShellWhitelist: []string{
				"go", "mix", "npm", "make", "cargo", "pytest", "ls", "cat", "grep",
			},
			GitBlacklist:          defaultGitBlacklist,
			MaxTimeout:            15 * time.Minute,
			Network:               NetworkDeny,
			RequireResourceLimits: true,
		},
		models.RoleCritic: {
			AllowedTools: []models.Tool{models.ToolFilesystemRead},
			MaxTimeout:   5 * time.Minute,
			Network:      NetworkDeny,
		},
		models.RoleResearcher: {
			AllowedTools: []models.Tool{
				models.ToolFilesystemRead, models.ToolHTTP,
			},
			MaxTimeout: 5 * time.Minute,
			Network:    NetworkAllowWhitelisted,
			NetworkWhitelist: []string{
				"golang.org", "pkg.go.dev", "github.com", "hexdocs.pm",
			},
		},
		models.RoleAdmin: {
			AllowedTools: []models.Tool{
				models.ToolFilesystemRead, models.ToolFilesystemWrite,
				models.ToolShell, models.ToolGit, models.ToolHTTP, models.ToolDocker,
			},
			ShellWhitelist: []string{
				"go", "mix", "npm", "pnpm", "yarn", "make", "cargo", "python",
				"pytest", "git", "docker", "ls", "cat", "grep", "find", "mkdir",
				"touch", "echo", "sed", "awk", "rm", "cp", "mv", "tar", "curl",
			},
			AllowWrites: true,
			WritePaths:  []string{"/"},
			Network:     NetworkAllow,
		},
	}
}
