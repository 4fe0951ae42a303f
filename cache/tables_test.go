package cache

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExtractTables(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{
			name: "simple select",
			sql:  "SELECT * FROM Products",
			want: []string{"products"},
		},
		{
			name: "join",
			sql:  "SELECT * FROM Orders o JOIN Products p ON p.Id = o.ProductId",
			want: []string{"orders", "products"},
		},
		{
			name: "bracketed schema prefix",
			sql:  "SELECT * FROM [dbo].[Orders]",
			want: []string{"orders"},
		},
		{
			name: "double quoted",
			sql:  `SELECT * FROM "Products" p`,
			want: []string{"products"},
		},
		{
			name: "backticks",
			sql:  "SELECT * FROM `Products`",
			want: []string{"products"},
		},
		{
			name: "alias with AS",
			sql:  "SELECT * FROM Products AS p",
			want: []string{"products"},
		},
		{
			name: "lowercase keywords",
			sql:  "select id from products join orders on 1=1",
			want: []string{"orders", "products"},
		},
		{
			name: "left join",
			sql:  "SELECT * FROM a LEFT JOIN b ON a.x = b.x",
			want: []string{"a", "b"},
		},
		{
			name: "duplicate references collapse",
			sql:  "SELECT * FROM Products p1 JOIN Products p2 ON p1.Id = p2.Id",
			want: []string{"products"},
		},
		{
			name: "no tables",
			sql:  "SELECT 1",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractTables(tt.sql)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ExtractTables mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractWriteTables(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{
			name: "insert",
			sql:  "INSERT INTO Products (Name) VALUES ('x')",
			want: []string{"products"},
		},
		{
			name: "update",
			sql:  "UPDATE Orders SET Total = 0",
			want: []string{"orders"},
		},
		{
			name: "delete",
			sql:  "DELETE FROM [dbo].[Orders] WHERE Id = 1",
			want: []string{"orders"},
		},
		{
			name: "merge",
			sql:  "MERGE INTO Products AS t USING Staging AS s ON t.Id = s.Id",
			want: []string{"products", "staging"},
		},
		{
			name: "insert select includes sources",
			sql:  "INSERT INTO Archive SELECT * FROM Orders",
			want: []string{"archive", "orders"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractWriteTables(tt.sql)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ExtractWriteTables mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalizeTag(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Products", "products"},
		{"[dbo].[Orders]", "orders"},
		{`"Products"`, "products"},
		{"`Products`", "products"},
		{"public.users", "users"},
		{"  Products  ", "products"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeTag(tt.in); got != tt.want {
			t.Errorf("NormalizeTag(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{"Products", "[dbo].[Products]", "", "Orders"})
	want := []string{"orders", "products"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NormalizeTags mismatch (-want +got):\n%s", diff)
	}
}
