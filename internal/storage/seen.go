package storage

import "fmt"

// LoadSeen returns userID's seen prompts, oldest first.
func (s *Store) LoadSeen(userID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT prompt FROM seen_questions WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("loading seen questions: %w", err)
	}
	defer rows.Close()

	var prompts []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// SaveSeen replaces userID's history with prompts, keeping their order.
// Repeated prompts keep their first position.
func (s *Store) SaveSeen(userID string, prompts []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM seen_questions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clearing seen questions: %w", err)
	}
	insert, err := tx.Prepare(`INSERT OR IGNORE INTO seen_questions (user_id, prompt, created_at) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insert.Close()

	now := s.now().UnixMilli()
	for _, p := range prompts {
		if _, err := insert.Exec(userID, p, now); err != nil {
			return fmt.Errorf("saving seen question: %w", err)
		}
	}
	return tx.Commit()
}
