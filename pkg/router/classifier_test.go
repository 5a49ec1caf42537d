package router

import (
	"testing"

	"github.com/matryer/is"
)

func TestIsReadOnly(t *testing.T) {
	cases := []struct {
		name string
		sql  string
		want bool
	}{
		{"select", "SELECT * FROM users WHERE id=1", true},
		{"select lowercase", "select 1", true},
		{"leading whitespace update", "  update users set x=1", false},
		{"insert", "INSERT INTO foo (id) VALUES (default)", false},
		{"delete", "DELETE FROM foo WHERE id = $1", false},
		{"create", "CREATE TABLE bar (id int)", false},
		{"drop", "DROP TABLE bar", false},
		{"alter", "ALTER TABLE bar ADD COLUMN x int", false},
		{"truncate", "TRUNCATE bar", false},
		{"replace", "REPLACE INTO bar VALUES (1)", false},
		{"merge", "MERGE INTO bar USING src ON 1=1 WHEN MATCHED THEN DO NOTHING", false},
		{"call", "CALL refresh_totals()", false},
		{"exec", "EXEC some_proc", false},
		{"explain", "EXPLAIN SELECT * FROM foo", true},
		{"show", "SHOW server_version", true},
		{"describe", "DESCRIBE foo", true},
		{"desc", "DESC foo", true},
		{"cte select", "WITH recent AS (SELECT * FROM foo) SELECT * FROM recent", true},
		{"cte insert", "WITH moved AS (DELETE FROM foo RETURNING *) INSERT INTO archive SELECT * FROM moved", false},
		{"cte update", "with t as (update foo set x=1 returning id) select * from t", false},
		{"leading line comment", "-- fetch\nSELECT 1", true},
		{"leading block comment", "/* fetch */ SELECT 1", true},
		{"comment then update", "/* note */ UPDATE foo SET x=1", false},
		{"empty", "", false},
		{"whitespace only", "   ", false},
		{"unknown statement", "VACUUM ANALYZE foo", false},
		{"unterminated comment", "/* dangling", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			is := is.New(t)
			is.Equal(IsReadOnly(tc.sql), tc.want)
		})
	}
}
