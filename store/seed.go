package store

import (
	"context"

	"github.com/adonese/bizpilot/fields"
)

type lookupPriority struct {
	code, name, color string
	level             int
}

type lookupStatus struct {
	code, name, category string
}

var (
	seedPriorities = []lookupPriority{
		{"LOW", "Low", "#28a745", 1},
		{"MEDIUM", "Medium", "#ffc107", 2},
		{"HIGH", "High", "#fd7e14", 3},
		{"CRITICAL", "Critical", "#dc3545", 4},
	}
	seedStatuses = []lookupStatus{
		{"DRAFT", "Draft", "testcase"},
		{"READY", "Ready", "testcase"},
		{"PASSED", "Passed", "testcase"},
		{"FAILED", "Failed", "testcase"},
		{"TODO", "To Do", "task"},
		{"IN_PROGRESS", "In Progress", "task"},
		{"DONE", "Done", "task"},
		{"BLOCKED", "Blocked", "task"},
		{"SUCCESS", "Success", "generation"},
		{"FAILED", "Failed", "generation"},
	}
	seedCategories = [][2]string{
		{"FUNCTIONAL", "Functional"},
		{"PERFORMANCE", "Performance"},
		{"SECURITY", "Security"},
		{"NEGATIVE", "Negative"},
		{"VALIDATION", "Validation"},
		{"COMPLETE", "Complete generation"},
		{"TESTCASE", "Test case generation"},
		{"TASK", "Task generation"},
	}
	seedRoles = [][2]string{
		{"DEVELOPER", "Developer"},
		{"QA", "QA Engineer"},
		{"PM", "Project Manager"},
	}
)

// Seed inserts lookup rows and the default company. It is safe to run repeatedly.
func (s *Store) Seed(ctx context.Context) error {
	db, err := s.ensureDB()
	if err != nil {
		return err
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range seedPriorities {
		stmt := tx.Rebind(`INSERT INTO lt_priority(priority_code, priority_name, priority_level, priority_color, priority_is_active)
			VALUES(?, ?, ?, ?, TRUE) ON CONFLICT(priority_code) DO NOTHING`)
		if _, err := tx.ExecContext(ctx, stmt, p.code, p.name, p.level, p.color); err != nil {
			return err
		}
	}
	for _, st := range seedStatuses {
		stmt := tx.Rebind(`INSERT INTO lt_general_status(status_code, status_name, status_category, status_is_active)
			VALUES(?, ?, ?, TRUE) ON CONFLICT(status_code, status_category) DO NOTHING`)
		if _, err := tx.ExecContext(ctx, stmt, st.code, st.name, st.category); err != nil {
			return err
		}
	}
	for _, c := range seedCategories {
		stmt := tx.Rebind(`INSERT INTO lt_category_ctgry(ctgry_code, ctgry_name, ctgry_is_active)
			VALUES(?, ?, TRUE) ON CONFLICT(ctgry_code) DO NOTHING`)
		if _, err := tx.ExecContext(ctx, stmt, c[0], c[1]); err != nil {
			return err
		}
	}
	for _, r := range seedRoles {
		stmt := tx.Rebind(`INSERT INTO lt_role(role_code, role_name, role_is_active)
			VALUES(?, ?, TRUE) ON CONFLICT(role_code) DO NOTHING`)
		if _, err := tx.ExecContext(ctx, stmt, r[0], r[1]); err != nil {
			return err
		}
	}
	stmt := tx.Rebind(`INSERT INTO dt_company_com(com_id, com_name, com_code, com_is_active)
		VALUES(?, ?, ?, TRUE) ON CONFLICT(com_id) DO NOTHING`)
	if _, err := tx.ExecContext(ctx, stmt, fields.DefaultCompanyID, "Default Company", "DEFAULT"); err != nil {
		return err
	}
	if s.DB.IsPostgres() {
		// explicit id insert leaves the sequence behind
		if _, err := tx.ExecContext(ctx, `SELECT setval(pg_get_serial_sequence('dt_company_com', 'com_id'), GREATEST((SELECT MAX(com_id) FROM dt_company_com), 1))`); err != nil {
			return err
		}
	}
	return tx.Commit()
}
