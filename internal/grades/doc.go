// Package grades defines the domain model shared by the gradewatch subsystems:
// snapshots of an account's resources and evaluations, the error taxonomy used
// across the auth, portal and storage layers, the schema that every snapshot
// must satisfy before it is persisted, and the change detector that turns two
// snapshots into notifications.
package grades
