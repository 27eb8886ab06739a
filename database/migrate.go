// database/migrate.go - Database Migration Runner
package database

import (
	"log"

	"partyquiz/models"
)

// RunMigrations runs all database migrations
func RunMigrations() {
	db := GetDB()
	log.Println("🔄 Running database migrations...")

	// Authoring models
	if err := db.AutoMigrate(
		&models.Quiz{},
		&models.Round{},
		&models.Item{},
		&models.Question{},
		&models.Option{},
	); err != nil {
		log.Fatalf("❌ Failed to run quiz migrations: %v", err)
	}

	// Live play models
	if err := db.AutoMigrate(
		&models.Session{},
		&models.SessionPlayer{},
		&models.SessionAnswer{},
		&models.SessionEvent{},
	); err != nil {
		log.Fatalf("❌ Failed to run session migrations: %v", err)
	}

	createIndexes()

	log.Println("✅ All migrations completed successfully")
}

// createIndexes covers the lookups the hot paths depend on. The uniqueness
// indexes (player name per session, answer per player+item) come from the
// model tags.
func createIndexes() {
	db := GetDB()

	db.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_code_active ON sessions(code) WHERE archived = false AND ended_at IS NULL")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_quiz_active ON sessions(quiz_id) WHERE archived = false AND ended_at IS NULL")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_players_token ON session_players(token)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_answers_session_item ON session_answers(session_row_id, item_id)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_events_session_seq ON session_events(session_row_id, seq)")
}
