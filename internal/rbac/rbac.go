// Package rbac answers role-based questions for resource kinds that have no
// document-specific policy lookup. The role table is static and read-only
// after construction, so a Checker is safe for concurrent use.
package rbac

import (
	"errors"
	"fmt"
	"strings"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Resource kinds known to the default table.
const (
	ResourceDocument      = "document"
	ResourceAccessPolicy  = "accessPolicy"
	ResourceDownloadToken = "downloadToken"
	ResourceWorkspace     = "workspace"
)

// Canonical actions.
const (
	ActionCreate   = "create"
	ActionRead     = "read"
	ActionWrite    = "write"
	ActionUpdate   = "update"
	ActionDelete   = "delete"
	ActionManage   = "manage"
	ActionPublish  = "publish"
	ActionUpload   = "upload"
	ActionDownload = "download"
	ActionGrant    = "grant"
	ActionRevoke   = "revoke"
)

var canonicalActions = map[string]bool{
	ActionCreate: true, ActionRead: true, ActionWrite: true, ActionUpdate: true,
	ActionDelete: true, ActionManage: true, ActionPublish: true, ActionUpload: true,
	ActionDownload: true, ActionGrant: true, ActionRevoke: true,
}

// IsCanonicalAction reports whether action is one of the Action constants.
func IsCanonicalAction(action string) bool { return canonicalActions[action] }

var (
	ErrConfigNoRoles       = errors.New("rbac: at least one role is required")
	ErrConfigUnknownRole   = errors.New("rbac: capability references unknown role")
	ErrConfigEmptyResource = errors.New("rbac: capability resource is empty")
	ErrConfigEmptyAction   = errors.New("rbac: capability action is empty")
	ErrConfigSynonymLoop   = errors.New("rbac: synonym maps to another synonym")
)

// Config describes roles, their capabilities per resource kind and the
// action synonyms normalized before lookup.
type Config struct {
	Roles        []Role
	SuperRole    Role
	Capabilities map[Role]map[string][]string
	Synonyms     map[string]string
}

func (c Config) Validate() error {
	if len(c.Roles) == 0 {
		return ErrConfigNoRoles
	}
	known := make(map[Role]bool, len(c.Roles))
	for _, r := range c.Roles {
		known[r] = true
	}
	if c.SuperRole != "" && !known[c.SuperRole] {
		return fmt.Errorf("%w: %s", ErrConfigUnknownRole, c.SuperRole)
	}
	for role, resources := range c.Capabilities {
		if !known[role] {
			return fmt.Errorf("%w: %s", ErrConfigUnknownRole, role)
		}
		for res, actions := range resources {
			if strings.TrimSpace(res) == "" {
				return fmt.Errorf("%w: role %s", ErrConfigEmptyResource, role)
			}
			for _, a := range actions {
				if strings.TrimSpace(a) == "" {
					return fmt.Errorf("%w: role %s resource %s", ErrConfigEmptyAction, role, res)
				}
			}
		}
	}
	for from, to := range c.Synonyms {
		if _, chained := c.Synonyms[to]; chained {
			return fmt.Errorf("%w: %s -> %s", ErrConfigSynonymLoop, from, to)
		}
	}
	return nil
}

// DefaultConfig is the admin/editor/viewer preset.
func DefaultConfig() Config {
	return Config{
		Roles:     []Role{RoleAdmin, RoleEditor, RoleViewer},
		SuperRole: RoleAdmin,
		Capabilities: map[Role]map[string][]string{
			RoleEditor: {
				ResourceDocument:      {ActionCreate, ActionRead, ActionUpdate, ActionUpload, ActionDownload, ActionPublish},
				ResourceDownloadToken: {ActionCreate, ActionRead},
				ResourceAccessPolicy:  {ActionRead},
				ResourceWorkspace:     {ActionRead},
			},
			RoleViewer: {
				ResourceDocument:      {ActionRead, ActionDownload},
				ResourceDownloadToken: {ActionRead},
				ResourceWorkspace:     {ActionRead},
			},
		},
		Synonyms: map[string]string{
			"view":    ActionRead,
			"get":     ActionRead,
			"list":    ActionRead,
			"edit":    ActionUpdate,
			"modify":  ActionUpdate,
			"remove":  ActionDelete,
			"destroy": ActionDelete,
			"add":     ActionCreate,
			"new":     ActionCreate,
			"share":   ActionGrant,
			"unshare": ActionRevoke,
			"admin":   ActionManage,
		},
	}
}

// Checker evaluates a validated Config.
type Checker struct {
	superRole    Role
	capabilities map[Role]map[string]map[string]bool
	synonyms     map[string]string
}

func New(cfg Config) (*Checker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Checker{
		superRole:    cfg.SuperRole,
		capabilities: make(map[Role]map[string]map[string]bool, len(cfg.Capabilities)),
		synonyms:     make(map[string]string, len(cfg.Synonyms)),
	}
	for role, resources := range cfg.Capabilities {
		c.capabilities[role] = make(map[string]map[string]bool, len(resources))
		for res, actions := range resources {
			set := make(map[string]bool, len(actions))
			for _, a := range actions {
				set[strings.ToLower(strings.TrimSpace(a))] = true
			}
			c.capabilities[role][res] = set
		}
	}
	for from, to := range cfg.Synonyms {
		c.synonyms[strings.ToLower(from)] = strings.ToLower(to)
	}
	return c, nil
}

// MustNew panics on an invalid config. Use it with known-good presets.
func MustNew(cfg Config) *Checker {
	c, err := New(cfg)
	if err != nil {
		panic(fmt.Sprintf("rbac.MustNew: %v", err))
	}
	return c
}

// Normalize lower-cases action and maps synonyms to the canonical name.
func (c *Checker) Normalize(action string) string {
	action = strings.ToLower(strings.TrimSpace(action))
	if canonical, ok := c.synonyms[action]; ok {
		return canonical
	}
	return action
}

// IsSuper reports whether roles include the super role.
func (c *Checker) IsSuper(roles []string) bool {
	if c.superRole == "" {
		return false
	}
	for _, r := range roles {
		if Role(normalizeRole(r)) == c.superRole {
			return true
		}
	}
	return false
}

// Allowed reports whether any of roles grants action on resource.
// The super role is allowed everything.
func (c *Checker) Allowed(roles []string, resource, action string) bool {
	if c.IsSuper(roles) {
		return true
	}
	action = c.Normalize(action)
	for _, r := range roles {
		if c.capabilities[Role(normalizeRole(r))][resource][action] {
			return true
		}
	}
	return false
}

func normalizeRole(r string) string {
	return strings.ToLower(strings.TrimSpace(r))
}
