package rbac

import (
	"sort"
	"strings"

	"github.com/appvend/appvend/pkg/apperr"
)

// Capability names, grouped by domain. The registry is compile-time fixed;
// roles may only reference capabilities listed here.
const (
	CapAppsView          = "hosted_apps.view"
	CapAppsUpload        = "hosted_apps.upload"
	CapAppsManage        = "hosted_apps.manage"
	CapAppsDelete        = "hosted_apps.delete"
	CapAppsDownloadAdmin = "hosted_apps.download_admin"

	CapLicensesView   = "monetization.licenses_view"
	CapLicensesIssue  = "monetization.licenses_issue"
	CapLicensesManage = "monetization.licenses_manage"
	CapLicensesRevoke = "monetization.licenses_revoke"

	CapRepoView     = "repository.view"
	CapRepoDownload = "repository.download"
	CapRepoManage   = "repository.manage"

	CapAnalyticsView   = "analytics.view"
	CapAnalyticsExport = "analytics.export"

	CapMessagingSend   = "messaging.send"
	CapMessagingManage = "messaging.manage"

	CapSecurityRolesManage    = "security.roles_manage"
	CapSecurityMembersManage  = "security.members_manage"
	CapSecurityAccountsManage = "security.service_accounts_manage"
	CapSecurityAuditView      = "security.audit_view"
)

// registry maps every capability to its human description.
var registry = map[string]string{
	CapAppsView:          "View hosted applications",
	CapAppsUpload:        "Upload new application packages",
	CapAppsManage:        "Edit hosted application metadata",
	CapAppsDelete:        "Delete hosted applications",
	CapAppsDownloadAdmin: "Download admin application packages",

	CapLicensesView:   "View licenses",
	CapLicensesIssue:  "Issue new licenses",
	CapLicensesManage: "Activate, deactivate and suspend licenses",
	CapLicensesRevoke: "Revoke licenses permanently",

	CapRepoView:     "Browse the application repository",
	CapRepoDownload: "Download repository packages",
	CapRepoManage:   "Manage repository contents",

	CapAnalyticsView:   "View download and activation analytics",
	CapAnalyticsExport: "Export analytics data",

	CapMessagingSend:   "Send bulk messages to license holders",
	CapMessagingManage: "Manage messaging templates and queues",

	CapSecurityRolesManage:    "Create and assign roles",
	CapSecurityMembersManage:  "Manage organization members",
	CapSecurityAccountsManage: "Manage service accounts and API keys",
	CapSecurityAuditView:      "View the security audit trail",
}

// Exists reports whether cap is a registered capability.
func Exists(cap string) bool {
	_, ok := registry[cap]
	return ok
}

// MustExist validates a capability name. Unknown capabilities are a
// configuration error (a typo in a role definition), not runtime user
// input, so the error is 500-class.
func MustExist(cap string) error {
	if Exists(cap) {
		return nil
	}
	return apperr.Internal(apperr.CodeUnknownCapability,
		"capability is not registered").WithData("capability", cap)
}

// Describe returns the human description for a capability.
func Describe(cap string) string {
	return registry[cap]
}

// All returns every registered capability, sorted. system_admin resolves
// its capability set through this, so new capabilities are picked up
// without touching the role definition.
func All() []string {
	caps := make([]string, 0, len(registry))
	for cap := range registry {
		caps = append(caps, cap)
	}
	sort.Strings(caps)
	return caps
}

// Domain returns the domain prefix of a capability name.
func Domain(cap string) string {
	if i := strings.IndexByte(cap, '.'); i > 0 {
		return cap[:i]
	}
	return cap
}
