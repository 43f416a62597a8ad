package rbac

import (
	"fmt"
)

// Canonical role names shipped with every installation.
const (
	RoleSystemAdmin    = "system_admin"
	RoleResourceOwner  = "resource_owner"
	RoleResourceAdmin  = "resource_admin"
	RoleSecurityAdmin  = "security_admin"
	RoleAppManager     = "app_manager"
	RoleLicenseManager = "license_manager"
	RoleAnalyst        = "analyst"
	RoleViewer         = "viewer"
)

// Role binds a name to a capability set. Canonical roles are defined in
// code; custom roles are persisted with an explicit capability list.
type Role struct {
	ID           int64    `json:"id,omitempty"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities"`
	IsCanonical  bool     `json:"is_canonical"`
}

// NewRole builds a custom role, rejecting unregistered capabilities.
func NewRole(name, description string, caps []string) (*Role, error) {
	if name == "" {
		return nil, fmt.Errorf("role name is required")
	}
	for _, cap := range caps {
		if err := MustExist(cap); err != nil {
			return nil, err
		}
	}
	return &Role{
		Name:         name,
		Description:  description,
		Capabilities: append([]string(nil), caps...),
	}, nil
}

// Can reports whether the role grants a capability. The system_admin role
// is resolved against the live registry on every call rather than a
// stored list, so it always covers every registered capability.
func (r *Role) Can(cap string) bool {
	if r == nil {
		return false
	}
	if r.Name == RoleSystemAdmin {
		return Exists(cap)
	}
	for _, c := range r.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// canonicalRoles are resolved before any database lookup. system_admin
// carries no stored list; see Role.Can.
var canonicalRoles = map[string]*Role{
	RoleSystemAdmin: {
		Name:        RoleSystemAdmin,
		Description: "Full access to every capability",
		IsCanonical: true,
	},
	RoleResourceOwner: {
		Name:        RoleResourceOwner,
		Description: "Everything within the owner scope",
		IsCanonical: true,
		Capabilities: []string{
			CapAppsView, CapAppsUpload, CapAppsManage, CapAppsDelete, CapAppsDownloadAdmin,
			CapLicensesView, CapLicensesIssue, CapLicensesManage, CapLicensesRevoke,
			CapRepoView, CapRepoDownload, CapRepoManage,
			CapAnalyticsView, CapAnalyticsExport,
			CapMessagingSend, CapMessagingManage,
			CapSecurityRolesManage, CapSecurityMembersManage,
			CapSecurityAccountsManage, CapSecurityAuditView,
		},
	},
	RoleResourceAdmin: {
		Name:        RoleResourceAdmin,
		Description: "Owner scope without security administration",
		IsCanonical: true,
		Capabilities: []string{
			CapAppsView, CapAppsUpload, CapAppsManage, CapAppsDelete, CapAppsDownloadAdmin,
			CapLicensesView, CapLicensesIssue, CapLicensesManage, CapLicensesRevoke,
			CapRepoView, CapRepoDownload, CapRepoManage,
			CapAnalyticsView, CapAnalyticsExport,
			CapMessagingSend, CapMessagingManage,
		},
	},
	RoleSecurityAdmin: {
		Name:        RoleSecurityAdmin,
		Description: "Role, membership and service account administration",
		IsCanonical: true,
		Capabilities: []string{
			CapSecurityRolesManage, CapSecurityMembersManage,
			CapSecurityAccountsManage, CapSecurityAuditView,
			CapAppsView, CapLicensesView,
		},
	},
	RoleAppManager: {
		Name:        RoleAppManager,
		Description: "Hosted application lifecycle",
		IsCanonical: true,
		Capabilities: []string{
			CapAppsView, CapAppsUpload, CapAppsManage, CapAppsDownloadAdmin,
			CapRepoView, CapRepoDownload, CapRepoManage,
		},
	},
	RoleLicenseManager: {
		Name:        RoleLicenseManager,
		Description: "License issuing and day-to-day management",
		IsCanonical: true,
		Capabilities: []string{
			CapLicensesView, CapLicensesIssue, CapLicensesManage,
			CapAppsView, CapAnalyticsView, CapMessagingSend,
		},
	},
	RoleAnalyst: {
		Name:        RoleAnalyst,
		Description: "Read access plus analytics export",
		IsCanonical: true,
		Capabilities: []string{
			CapAppsView, CapLicensesView, CapRepoView,
			CapAnalyticsView, CapAnalyticsExport,
		},
	},
	RoleViewer: {
		Name:        RoleViewer,
		Description: "Read-only access",
		IsCanonical: true,
		Capabilities: []string{
			CapAppsView, CapLicensesView, CapRepoView, CapAnalyticsView,
		},
	},
}

// CanonicalRole returns the built-in role with the given name, or nil.
func CanonicalRole(name string) *Role {
	return canonicalRoles[name]
}
