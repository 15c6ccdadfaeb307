package domain

import "testing"

func TestAccount_Validate(t *testing.T) {
	tests := []struct {
		name    string
		acct    Account
		wantErr bool
	}{
		{"valid", Account{ID: "a1", Email: "a@example.com", PasswordHash: "h"}, false},
		{"missing id", Account{Email: "a@example.com", PasswordHash: "h"}, true},
		{"missing email", Account{ID: "a1", PasswordHash: "h"}, true},
		{"missing hash", Account{ID: "a1", Email: "a@example.com"}, true},
		{"negative cap", Account{ID: "a1", Email: "a@example.com", PasswordHash: "h", MaxConcurrentSessions: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.acct.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAccount_SessionLimit(t *testing.T) {
	if got := (&Account{MaxConcurrentSessions: 2}).SessionLimit(5); got != 2 {
		t.Errorf("SessionLimit = %d, want 2", got)
	}
	if got := (&Account{}).SessionLimit(3); got != 3 {
		t.Errorf("SessionLimit = %d, want 3", got)
	}
	if got := (&Account{}).SessionLimit(0); got != DefaultMaxConcurrentSessions {
		t.Errorf("SessionLimit = %d, want %d", got, DefaultMaxConcurrentSessions)
	}
}
