package store

import (
	"fmt"
	"log"

	"github.com/Itypecode/E-DAV/models"
	"github.com/Itypecode/E-DAV/pkg/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Open connects to Postgres and, unless DB_AUTO_MIGRATE is off, migrates the schema.
func Open(cfg config.Config) (*gorm.DB, error) {
	if err := cfg.RequireDB(); err != nil {
		return nil, err
	}
	db, err := gorm.Open(postgres.Open(cfg.DBDSN), &gorm.Config{Logger: newSQLLogger(cfg.DBSlow)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect postgres database: %w", err)
	}
	if cfg.DBAutoMigrate {
		Migrate(db)
	}
	return db, nil
}

// Migrate creates or updates the tables. Models are migrated one by one so a failure on
// one (for example missing ALTER permission on a shared database) doesn't block the others;
// failures are logged and ignored.
func Migrate(db *gorm.DB) {
	for _, m := range []struct {
		name  string
		model any
	}{
		{"profiles", &models.Profile{}},
		{"lecture_instances", &models.LectureInstance{}},
		{"attendance_registry", &models.AttendanceRecord{}},
		{"submissions", &models.Submission{}},
		{"attendance_appeals", &models.Appeal{}},
	} {
		if err := db.AutoMigrate(m.model); err != nil {
			log.Printf("migration warning (%s): %v", m.name, err)
		}
	}
	for _, stmt := range []string{
		`ALTER TABLE attendance_registry DROP CONSTRAINT IF EXISTS chk_attendance_decision`,
		`ALTER TABLE attendance_registry ADD CONSTRAINT chk_attendance_decision CHECK (decision IN ('PRESENT','ABSENT','PENDING','OD'))`,
		`ALTER TABLE submissions DROP CONSTRAINT IF EXISTS chk_submission_status`,
		`ALTER TABLE submissions ADD CONSTRAINT chk_submission_status CHECK (status IN ('pending','ocr_done','embedding_done','All done'))`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_appeal_one_pending ON attendance_appeals (user_id, lecture_instance_id) WHERE status = 'pending'`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			log.Printf("migration warning: %v", err)
		}
	}
}
