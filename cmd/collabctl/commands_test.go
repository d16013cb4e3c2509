package main

import (
	"errors"
	"testing"

	"inkdown-collab/internal/domain"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    command
		wantErr bool
	}{
		{"plain text appends", "hello world", command{kind: cmdAppend, text: "hello world"}, false},
		{"empty line appends", "", command{kind: cmdAppend}, false},
		{"set replaces", "/set fresh start", command{kind: cmdSet, text: "fresh start"}, false},
		{"set may clear", "/set", command{kind: cmdSet}, false},
		{"title", "/title  Weekly notes ", command{kind: cmdTitle, text: "Weekly notes"}, false},
		{"title needs text", "/title", command{}, true},
		{"cursor", "/cursor 42", command{kind: cmdCursor, position: 42}, false},
		{"cursor rejects negatives", "/cursor -1", command{}, true},
		{"cursor rejects words", "/cursor end", command{}, true},
		{"save", "/save", command{kind: cmdSave}, false},
		{"comment", "/comment check this", command{kind: cmdComment, text: "check this"}, false},
		{"resolve", "/resolve c-1", command{kind: cmdResolve, text: "c-1"}, false},
		{"invite defaults to read", "/invite bob@example.com", command{kind: cmdInvite, text: "bob@example.com", level: domain.PermissionRead}, false},
		{"invite with level", "/invite bob@example.com admin", command{kind: cmdInvite, text: "bob@example.com", level: domain.PermissionAdmin}, false},
		{"invite bad level", "/invite bob@example.com owner", command{}, true},
		{"invite needs email", "/invite", command{}, true},
		{"remove", "/remove user-2", command{kind: cmdRemove, text: "user-2"}, false},
		{"who", "/who", command{kind: cmdWho}, false},
		{"status", "/status", command{kind: cmdStatus}, false},
		{"reconnect", "/reconnect", command{kind: cmdReconnect}, false},
		{"offline", "/offline", command{kind: cmdOffline}, false},
		{"online", "/online", command{kind: cmdOnline}, false},
		{"quit", "/quit", command{kind: cmdQuit}, false},
		{"quit short", "/q", command{kind: cmdQuit}, false},
		{"unknown", "/dance", command{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCommand(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCommand(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("parseCommand(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestParseCommand_UsageErrors(t *testing.T) {
	_, err := parseCommand("/resolve")
	if !errors.Is(err, errUsage) {
		t.Errorf("error = %v, want usage error", err)
	}
}

func TestRosterNames(t *testing.T) {
	tests := []struct {
		name   string
		roster []domain.PresenceEntry
		want   string
	}{
		{"empty", nil, "nobody else"},
		{"names", []domain.PresenceEntry{{UserID: "u1", UserName: "Ana"}, {UserID: "u2", UserName: "Bo"}}, "Ana, Bo"},
		{"falls back to id", []domain.PresenceEntry{{UserID: "u3"}}, "u3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rosterNames(tt.roster); got != tt.want {
				t.Errorf("rosterNames() = %q, want %q", got, tt.want)
			}
		})
	}
}
