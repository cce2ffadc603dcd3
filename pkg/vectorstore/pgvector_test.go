package vectorstore

import "testing"

func TestIsValidTableName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"Valid default collection", "crew_articles", true},
		{"Valid with numbers", "articles2025", true},
		{"Valid leading underscore", "_archive", true},
		{"Valid short", "a", true},
		{"Valid max length", "abcdefghijklmnopqrstuvwxyz_abcdefghijklmnopqrstuvwxyz0123456789", true}, // 63 chars
		{"Invalid uppercase start", "Articles", false},
		{"Invalid uppercase inside", "crew_Articles", false},
		{"Invalid start with number", "1articles", false},
		{"Invalid dash", "crew-articles", false},
		{"Invalid space", "crew articles", false},
		{"Invalid SQL injection", "crew_articles; DROP TABLE crew_runs", false},
		{"Invalid empty", "", false},
		{"Invalid too long", "abcdefghijklmnopqrstuvwxyz_abcdefghijklmnopqrstuvwxyz0123456789_", false}, // 64 chars
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidTableName(tt.input); got != tt.expected {
				t.Errorf("isValidTableName(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNewPGVectorStoreRejectsBadName(t *testing.T) {
	if _, err := NewPGVectorStore(nil, "bad name"); err == nil {
		t.Error("NewPGVectorStore() accepted an unsafe table name")
	}
	vs, err := NewPGVectorStore(nil, "crew_articles")
	if err != nil {
		t.Fatalf("NewPGVectorStore() error = %v", err)
	}
	if got := vs.table(); got != `"crew_articles"` {
		t.Errorf("table() = %s", got)
	}
}
