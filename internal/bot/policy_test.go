package bot

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPolicyMissingFileFallsBack(t *testing.T) {
	p, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if len(p.FollowedPoliticians) != 1 || p.FollowedPoliticians[0] != "Nancy Pelosi" {
		t.Fatalf("unexpected fallback policy: %+v", p)
	}
}

func TestLoadPolicyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `defaults:
  followed_politicians:
    - "Nancy Pelosi"
    - "Dan Crenshaw"
  min_trade_notional: 20000
  position_fraction: 0.25
  max_position_notional: 5000
  paper: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if len(p.FollowedPoliticians) != 2 {
		t.Fatalf("expected 2 followed politicians, got %v", p.FollowedPoliticians)
	}
	if p.MinTradeNotional != 20000 || p.PositionFraction != 0.25 || p.MaxPositionNotional != 5000 {
		t.Fatalf("unexpected policy: %+v", p)
	}
	if !p.Paper {
		t.Fatal("expected paper mode")
	}
}

func TestLoadPolicyRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "fraction above one",
			content: `defaults:
  position_fraction: 2.0
  max_position_notional: 1000
`,
		},
		{
			name: "zero cap",
			content: `defaults:
  position_fraction: 0.1
  max_position_notional: 0
`,
		},
		{
			name: "negative threshold",
			content: `defaults:
  position_fraction: 0.1
  max_position_notional: 1000
  min_trade_notional: -5
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "policy.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			if _, err := LoadPolicy(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
