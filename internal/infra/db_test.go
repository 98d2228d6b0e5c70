package infra

import (
	"reflect"
	"testing"
)

func TestSplitSQL(t *testing.T) {
	input := stripSQLComments(`
-- orders
CREATE TABLE a (id int);

  -- indented comment
CREATE INDEX a_idx ON a (id);
;
`)
	got := splitSQL(input)
	want := []string{"CREATE TABLE a (id int)", "CREATE INDEX a_idx ON a (id)"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitSQL = %q, want %q", got, want)
	}
}

func TestMigrationsDirFindsModuleRoot(t *testing.T) {
	dir, err := MigrationsDir()
	if err != nil {
		t.Fatalf("MigrationsDir: %v", err)
	}
	if got := dir[len(dir)-len("migrations"):]; got != "migrations" {
		t.Fatalf("unexpected dir %s", dir)
	}
}
