package rbac

import (
	"errors"
	"testing"

	"github.com/appvend/appvend/pkg/apperr"
)

func TestSystemAdminCoversEveryCapability(t *testing.T) {
	admin := CanonicalRole(RoleSystemAdmin)
	if admin == nil {
		t.Fatal("system_admin must be canonical")
	}
	for _, cap := range All() {
		if !admin.Can(cap) {
			t.Errorf("system_admin should grant %s", cap)
		}
	}
	if admin.Can("made_up.capability") {
		t.Error("system_admin must not grant unregistered capabilities")
	}
}

func TestCanonicalRoleCapabilitiesAreRegistered(t *testing.T) {
	for name, role := range canonicalRoles {
		for _, cap := range role.Capabilities {
			if !Exists(cap) {
				t.Errorf("role %s references unregistered capability %s", name, cap)
			}
		}
	}
}

func TestViewerIsReadOnly(t *testing.T) {
	viewer := CanonicalRole(RoleViewer)
	if !viewer.Can(CapAppsView) || !viewer.Can(CapLicensesView) {
		t.Error("viewer should see apps and licenses")
	}
	if viewer.Can(CapLicensesIssue) || viewer.Can(CapAppsDelete) || viewer.Can(CapAnalyticsExport) {
		t.Error("viewer must not hold write or export capabilities")
	}
}

func TestNewRoleRejectsUnknownCapability(t *testing.T) {
	_, err := NewRole("support", "", []string{CapAppsView, "bogus.cap"})
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Code != apperr.CodeUnknownCapability {
		t.Fatalf("expected unknown_capability, got %v", err)
	}

	role, err := NewRole("support", "support staff", []string{CapAppsView, CapLicensesView})
	if err != nil {
		t.Fatal(err)
	}
	if !role.Can(CapAppsView) || role.Can(CapAppsDelete) {
		t.Error("custom role should grant exactly its listed capabilities")
	}
}

func TestNilRoleGrantsNothing(t *testing.T) {
	var r *Role
	if r.Can(CapAppsView) {
		t.Error("nil role must deny everything")
	}
}
