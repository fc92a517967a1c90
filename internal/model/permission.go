package model

// Permission represents a string code for a specific staff action.
type Permission string

const (
	// PermissionAttemptsRead allows viewing attempts with answer keys and adjustments.
	PermissionAttemptsRead Permission = "attempts:read"

	// PermissionAttemptsGrade allows manual grading, adjustments, and grace marks.
	PermissionAttemptsGrade Permission = "attempts:grade"

	// PermissionTestsMonitor allows attaching to a test's live monitor.
	PermissionTestsMonitor Permission = "tests:monitor"

	// PermissionTestsPublish allows refreshing a deployed test's cached definition.
	PermissionTestsPublish Permission = "tests:publish"
)

// AllPermissions is a slice of all available permissions.
var AllPermissions = []Permission{
	PermissionAttemptsRead,
	PermissionAttemptsGrade,
	PermissionTestsMonitor,
	PermissionTestsPublish,
}
