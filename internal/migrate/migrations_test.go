package migrate

import (
	"testing"

	"invoicer/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	for i := 0; i < 2; i++ {
		if err := Migrate(conn, dialect); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}
	v, err := Version(conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected version 1, got %d", v)
	}
}

func TestBothDialectsShipSameVersions(t *testing.T) {
	lite, err := loadMigrations(db.SQLite)
	if err != nil {
		t.Fatal(err)
	}
	pg, err := loadMigrations(db.Postgres)
	if err != nil {
		t.Fatal(err)
	}
	if len(lite) != len(pg) {
		t.Fatalf("dialect migrations diverge: %d vs %d", len(lite), len(pg))
	}
	for i := range lite {
		if lite[i].Version != pg[i].Version {
			t.Fatalf("version mismatch at %d: %d vs %d", i, lite[i].Version, pg[i].Version)
		}
	}
}
