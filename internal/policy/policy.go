// Package policy implements role-based tool gating. Evaluation is
// stateless and side-effect-free: given a role, a tool, and the call
// arguments, Enforce either allows the call or returns a Violation
// naming the rule that denied it. Role definitions are immutable after
// load; changing them requires a process restart.
package policy

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hiveworks/swarmd/pkg/models"
)

// Denial reasons carried by Violation.
const (
	ReasonUnknownRole            = "unknown_role"
	ReasonForbiddenTool          = "forbidden_tool"
	ReasonTimeoutExceeded        = "timeout_exceeded"
	ReasonForbiddenCommand       = "forbidden_command"
	ReasonWriteForbidden         = "write_forbidden"
	ReasonForbiddenPath          = "forbidden_path"
	ReasonNetworkForbidden       = "network_forbidden"
	ReasonForbiddenURL           = "forbidden_url"
	ReasonResourceLimitsRequired = "docker_resource_limits_required"
)

// Violation is the error returned when policy denies a tool call.
type Violation struct {
	Role   models.Role
	Tool   models.Tool
	Reason string
	Detail string
}

// Error implements the error interface.
func (v *Violation) Error() string {
	if v.Detail == "" {
		return fmt.Sprintf("policy violation: role=%s tool=%s reason=%s", v.Role, v.Tool, v.Reason)
	}
	return fmt.Sprintf("policy violation: role=%s tool=%s reason=%s (%s)", v.Role, v.Tool, v.Reason, v.Detail)
}

// NetworkMode controls how the http tool is gated for a role.
type NetworkMode string

const (
	// NetworkDeny blocks all network access.
	NetworkDeny NetworkMode = "deny"
	// NetworkAllow permits any URL.
	NetworkAllow NetworkMode = "allow"
	// NetworkAllowWhitelisted permits only whitelisted hosts.
	NetworkAllowWhitelisted NetworkMode = "allow_whitelisted"
)

// RolePolicy is the immutable rule record for one role.
type RolePolicy struct {
	// AllowedTools is the set of tools the role may invoke at all.
	AllowedTools []models.Tool `mapstructure:"allowed_tools"`
	// ShellWhitelist lists permitted first tokens for shell commands.
	ShellWhitelist []string `mapstructure:"shell_whitelist"`
	// GitBlacklist lists substrings that deny a git command outright.
	GitBlacklist []string `mapstructure:"git_blacklist"`
	// AllowWrites enables the filesystem_write tool at all.
	AllowWrites bool `mapstructure:"allow_writes"`
	// WritePaths is the path-prefix allow-list for writes.
	WritePaths []string `mapstructure:"write_paths"`
	// ReadPaths, when non-empty, restricts reads to these prefixes.
	// Empty means reads are allowed anywhere.
	ReadPaths []string `mapstructure:"read_paths"`
	// MaxTimeout caps a requested execution timeout. Zero means unlimited.
	MaxTimeout time.Duration `mapstructure:"max_timeout"`
	// Network selects the network gating mode.
	Network NetworkMode `mapstructure:"network"`
	// NetworkWhitelist lists host substrings for allow_whitelisted mode.
	NetworkWhitelist []string `mapstructure:"network_whitelist"`
	// RequireResourceLimits forces cpu and memory limits on docker runs.
	RequireResourceLimits bool `mapstructure:"require_resource_limits"`
}

// Args carries the tool-specific arguments under evaluation.
type Args struct {
	// Command is the argv for shell and git tools.
	Command []string
	// Path is the target for filesystem tools.
	Path string
	// URL is the target for the http tool.
	URL string
}

// Options carries caller-requested execution options.
type Options struct {
	// Timeout is the requested execution timeout. Zero means none requested.
	Timeout time.Duration
	// CPULimit and MemoryLimit are docker resource limits.
	CPULimit    string
	MemoryLimit string
}

// Engine evaluates tool calls against the loaded role set. Safe for
// concurrent use: it holds no mutable state after construction.
type Engine struct {
	roles map[models.Role]RolePolicy
}

// NewEngine builds an engine from a role policy map.
func NewEngine(roles map[models.Role]RolePolicy) *Engine {
	copied := make(map[models.Role]RolePolicy, len(roles))
	for r, p := range roles {
		copied[r] = p
	}
	return &Engine{roles: copied}
}

// Role returns the policy for a role and whether it is defined.
func (e *Engine) Role(role models.Role) (RolePolicy, bool) {
	p, ok := e.roles[role]
	return p, ok
}

// MaxTimeout returns the timeout ceiling for a role. Zero means unlimited.
func (e *Engine) MaxTimeout(role models.Role) time.Duration {
	return e.roles[role].MaxTimeout
}

// Enforce decides whether a role may invoke a tool with the given
// arguments. The order is fixed: tool-set membership, then timeout
// ceiling, then tool-specific checks. Any (role, tool) combination
// without a specific check is allowed; the deny-by-default surface is
// tool membership and the timeout ceiling.
func (e *Engine) Enforce(role models.Role, tool models.Tool, args Args, opts Options) error {
	rp, ok := e.roles[role]
	if !ok {
		return &Violation{Role: role, Tool: tool, Reason: ReasonUnknownRole}
	}

	if !toolAllowed(rp.AllowedTools, tool) {
		return &Violation{Role: role, Tool: tool, Reason: ReasonForbiddenTool}
	}

	if opts.Timeout > 0 && rp.MaxTimeout > 0 && opts.Timeout > rp.MaxTimeout {
		return &Violation{
			Role: role, Tool: tool, Reason: ReasonTimeoutExceeded,
			Detail: fmt.Sprintf("requested %s exceeds ceiling %s", opts.Timeout, rp.MaxTimeout),
		}
	}

	switch tool {
	case models.ToolGit:
		return e.checkGit(role, rp, args)
	case models.ToolShell:
		return e.checkShell(role, rp, args)
	case models.ToolFilesystemWrite:
		return e.checkWrite(role, rp, args)
	case models.ToolFilesystemRead:
		return e.checkRead(role, rp, args)
	case models.ToolHTTP:
		return e.checkHTTP(role, rp, args)
	case models.ToolDocker:
		return e.checkDocker(role, rp, opts)
	default:
		return nil
	}
}

func (e *Engine) checkGit(role models.Role, rp RolePolicy, args Args) error {
	cmd := strings.Join(args.Command, " ")
	for _, banned := range rp.GitBlacklist {
		if banned != "" && strings.Contains(cmd, banned) {
			return &Violation{
				Role: role, Tool: models.ToolGit, Reason: ReasonForbiddenCommand,
				Detail: fmt.Sprintf("command contains %q", banned),
			}
		}
	}
	return nil
}

func (e *Engine) checkShell(role models.Role, rp RolePolicy, args Args) error {
	if len(args.Command) == 0 {
		return &Violation{Role: role, Tool: models.ToolShell, Reason: ReasonForbiddenCommand, Detail: "empty command"}
	}
	first := args.Command[0]
	for _, prefix := range rp.ShellWhitelist {
		if prefix != "" && strings.HasPrefix(first, prefix) {
			return nil
		}
	}
	return &Violation{
		Role: role, Tool: models.ToolShell, Reason: ReasonForbiddenCommand,
		Detail: fmt.Sprintf("%q is not whitelisted", first),
	}
}

func (e *Engine) checkWrite(role models.Role, rp RolePolicy, args Args) error {
	if !rp.AllowWrites {
		return &Violation{Role: role, Tool: models.ToolFilesystemWrite, Reason: ReasonWriteForbidden}
	}
	if pathAllowed(rp.WritePaths, args.Path) {
		return nil
	}
	return &Violation{
		Role: role, Tool: models.ToolFilesystemWrite, Reason: ReasonForbiddenPath,
		Detail: fmt.Sprintf("path %q outside allowed prefixes", args.Path),
	}
}

func (e *Engine) checkRead(role models.Role, rp RolePolicy, args Args) error {
	// Reads are allowed by default; an allow-list narrows them.
	if len(rp.ReadPaths) == 0 {
		return nil
	}
	if pathAllowed(rp.ReadPaths, args.Path) {
		return nil
	}
	return &Violation{
		Role: role, Tool: models.ToolFilesystemRead, Reason: ReasonForbiddenPath,
		Detail: fmt.Sprintf("path %q outside allowed prefixes", args.Path),
	}
}

func (e *Engine) checkHTTP(role models.Role, rp RolePolicy, args Args) error {
	switch rp.Network {
	case NetworkAllow:
		return nil
	case NetworkAllowWhitelisted:
		host := hostOf(args.URL)
		for _, allowed := range rp.NetworkWhitelist {
			if allowed != "" && strings.Contains(host, allowed) {
				return nil
			}
		}
		return &Violation{
			Role: role, Tool: models.ToolHTTP, Reason: ReasonForbiddenURL,
			Detail: fmt.Sprintf("host %q not whitelisted", host),
		}
	default:
		// Deny is the safe interpretation of an unset mode.
		return &Violation{Role: role, Tool: models.ToolHTTP, Reason: ReasonNetworkForbidden}
	}
}

func (e *Engine) checkDocker(role models.Role, rp RolePolicy, opts Options) error {
	if !rp.RequireResourceLimits {
		return nil
	}
	if opts.CPULimit == "" || opts.MemoryLimit == "" {
		return &Violation{Role: role, Tool: models.ToolDocker, Reason: ReasonResourceLimitsRequired}
	}
	return nil
}

func toolAllowed(allowed []models.Tool, tool models.Tool) bool {
	for _, t := range allowed {
		if t == tool {
			return true
		}
	}
	return false
}

func pathAllowed(prefixes []string, path string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Hostname()
}
