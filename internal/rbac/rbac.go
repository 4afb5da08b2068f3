package rbac

// Roles assignable to platform users. The set is closed: an unknown role in
// storage is treated as RoleStudent, never as something elevated.
type Role string

const (
	RoleSuperAdmin     Role = "super_admin"
	RoleDistrictAdmin  Role = "district_admin"
	RoleSchoolAdmin    Role = "school_admin"
	RoleTeacher        Role = "teacher"
	RoleParent         Role = "parent"
	RoleStudent        Role = "student"
	RoleSupportStaff   Role = "support_staff"
	RoleContentManager Role = "content_manager"
	RoleAuditor        Role = "auditor"
	RoleResearcher     Role = "researcher"
)

// Permission is a fine-grained capability.
type Permission string

const (
	ReadStudentRecord   Permission = "read_student_record"
	CreateStudentRecord Permission = "create_student_record"
	UpdateStudentRecord Permission = "update_student_record"
	DeleteStudentRecord Permission = "delete_student_record"

	ReadAssessmentData   Permission = "read_assessment_data"
	UpdateAssessmentData Permission = "update_assessment_data"

	ReadOwnData   Permission = "read_own_data"
	UpdateOwnData Permission = "update_own_data"

	AssignRoles     Permission = "assign_roles"
	ManageUsers     Permission = "manage_users"
	ExportData      Permission = "export_data"
	ViewAuditLogs   Permission = "view_audit_logs"
	ManageConsent   Permission = "manage_consent"
	ManageRetention Permission = "manage_retention"
	ManageContent   Permission = "manage_content"
	ViewReports     Permission = "view_reports"
)

// Category groups permissions for reporting only; it carries no enforcement
// semantics.
type Category string

const (
	CategoryStudentData    Category = "student_data"
	CategoryAdministration Category = "administration"
	CategoryCompliance     Category = "compliance"
	CategoryContent        Category = "content"
	CategorySelfService    Category = "self_service"
)

var permissionCategories = map[Permission]Category{
	ReadStudentRecord:    CategoryStudentData,
	CreateStudentRecord:  CategoryStudentData,
	UpdateStudentRecord:  CategoryStudentData,
	DeleteStudentRecord:  CategoryStudentData,
	ReadAssessmentData:   CategoryStudentData,
	UpdateAssessmentData: CategoryStudentData,
	ReadOwnData:          CategorySelfService,
	UpdateOwnData:        CategorySelfService,
	AssignRoles:          CategoryAdministration,
	ManageUsers:          CategoryAdministration,
	ManageContent:        CategoryContent,
	ViewReports:          CategoryAdministration,
	ExportData:           CategoryCompliance,
	ViewAuditLogs:        CategoryCompliance,
	ManageConsent:        CategoryCompliance,
	ManageRetention:      CategoryCompliance,
}

func CategoryOf(p Permission) Category {
	return permissionCategories[p]
}

// AllPermissions is the full permission universe, granted to super_admin.
func AllPermissions() []Permission {
	out := make([]Permission, 0, len(permissionCategories))
	for p := range permissionCategories {
		out = append(out, p)
	}
	return out
}

// PermissionSet is an immutable membership set.
type PermissionSet map[Permission]struct{}

func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

func (s PermissionSet) Contains(p Permission) bool {
	_, ok := s[p]
	return ok
}

// RolePermissions is the role to permission-set table, built once at startup
// and injected into the engine. Treated as read-only after construction.
type RolePermissions map[Role]PermissionSet

// DefaultRolePermissions builds the static role table.
func DefaultRolePermissions() RolePermissions {
	return RolePermissions{
		RoleSuperAdmin: NewPermissionSet(AllPermissions()...),
		RoleDistrictAdmin: NewPermissionSet(
			ReadStudentRecord, CreateStudentRecord, UpdateStudentRecord, DeleteStudentRecord,
			ReadAssessmentData, UpdateAssessmentData,
			AssignRoles, ManageUsers, ExportData, ViewAuditLogs,
			ManageConsent, ManageRetention, ViewReports,
			ReadOwnData, UpdateOwnData,
		),
		RoleSchoolAdmin: NewPermissionSet(
			ReadStudentRecord, CreateStudentRecord, UpdateStudentRecord, DeleteStudentRecord,
			ReadAssessmentData, UpdateAssessmentData,
			ManageUsers, ExportData, ViewAuditLogs, ManageConsent, ViewReports,
			ReadOwnData, UpdateOwnData,
		),
		RoleTeacher: NewPermissionSet(
			ReadStudentRecord, UpdateStudentRecord,
			ReadAssessmentData, UpdateAssessmentData,
			ViewReports, ReadOwnData, UpdateOwnData,
		),
		RoleParent: NewPermissionSet(
			ReadStudentRecord, ReadAssessmentData, ExportData, ManageConsent,
			ReadOwnData, UpdateOwnData,
		),
		RoleStudent: NewPermissionSet(
			ReadOwnData, UpdateOwnData,
		),
		RoleSupportStaff: NewPermissionSet(
			ReadStudentRecord, ViewReports, ReadOwnData, UpdateOwnData,
		),
		RoleContentManager: NewPermissionSet(
			ManageContent, ViewReports, ReadOwnData, UpdateOwnData,
		),
		RoleAuditor: NewPermissionSet(
			ViewAuditLogs, ViewReports, ReadOwnData,
		),
		RoleResearcher: NewPermissionSet(
			ReadAssessmentData, ViewReports, ReadOwnData,
		),
	}
}

var knownRoles = map[Role]struct{}{
	RoleSuperAdmin: {}, RoleDistrictAdmin: {}, RoleSchoolAdmin: {},
	RoleTeacher: {}, RoleParent: {}, RoleStudent: {},
	RoleSupportStaff: {}, RoleContentManager: {}, RoleAuditor: {}, RoleResearcher: {},
}

// NormalizeRole maps unknown role strings to the most restrictive role.
func NormalizeRole(raw string) Role {
	r := Role(raw)
	if _, ok := knownRoles[r]; ok {
		return r
	}
	return RoleStudent
}

// IsAdmin reports whether the role is exempt from resource-scoped rules.
func IsAdmin(r Role) bool {
	return r == RoleSuperAdmin || r == RoleDistrictAdmin || r == RoleSchoolAdmin
}
