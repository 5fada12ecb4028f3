package catalog

// Seed populates an empty catalog with the demo dataset used by the
// reference plugins: two models, their stages and bands, the standard
// temperature points, and a rule table exercising wildcards and priorities.
// Seeding a non-empty catalog is a no-op.
func (s *Store) Seed() error {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM models`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	stmts := []struct {
		q    string
		args [][]any
	}{
		{`INSERT INTO models(id, name) VALUES (?, ?)`, [][]any{
			{1, "ModelA"},
			{2, "ModelC"},
		}},
		{`INSERT INTO stages(id, model_id, name) VALUES (?, ?, ?)`, [][]any{
			{1, 1, "Board"},
			{2, 1, "Final"},
			{3, 2, "Board"},
			{4, 2, "Final"},
		}},
		{`INSERT INTO bands(id, model_id, name) VALUES (?, ?, ?)`, [][]any{
			{1, 1, "Band1"},
			{2, 1, "Band2"},
			{3, 1, "Band3"},
			{4, 2, "Band1"},
			{5, 2, "Band2"},
		}},
		{`INSERT INTO temperatures(id, stage_id, name, execution_order) VALUES (?, ?, ?, ?)`, [][]any{
			{1, 2, "25C", 1},
			{2, 2, "-10C", 2},
			{3, 2, "75C", 3},
			{4, 4, "25C", 1},
			{5, 4, "75C", 2},
		}},
		{`INSERT INTO testcase_defs(id, name) VALUES (?, ?)`, [][]any{
			{1, "Gain Flatness"},
			{2, "Power Sweep"},
			{3, "AM/PM"},
			{4, "Spur"},
			{5, "Phase Noise"},
		}},
		// Rules: the wildcard row (priority 10) applies everywhere; more
		// specific rows with lower priority numbers override it.
		{`INSERT INTO testcase_rules(model_id, band_id, temperature_id, testcase_id, priority) VALUES (?, ?, ?, ?, ?)`, [][]any{
			{0, 0, 0, 1, 10},
			{0, 0, 0, 2, 10},
			{1, 0, 0, 1, 5},
			{1, 0, 0, 4, 5},
			{1, 1, 0, 1, 1},
			{1, 1, 0, 3, 1},
			{1, 1, 0, 5, 1},
			{2, 0, 4, 1, 2},
			{2, 0, 4, 2, 2},
		}},
	}
	for _, st := range stmts {
		for _, args := range st.args {
			if _, err := s.db.Exec(st.q, args...); err != nil {
				return err
			}
		}
	}
	return nil
}
