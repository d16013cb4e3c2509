package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"inkdown-collab/internal/domain"
)

type commandKind int

const (
	cmdAppend commandKind = iota
	cmdSet
	cmdTitle
	cmdCursor
	cmdSave
	cmdComment
	cmdResolve
	cmdInvite
	cmdRemove
	cmdWho
	cmdStatus
	cmdReconnect
	cmdOffline
	cmdOnline
	cmdQuit
)

// command is one parsed stdin line. Lines that do not start with a slash
// append text to the note.
type command struct {
	kind     commandKind
	text     string
	position int
	level    domain.PermissionLevel
}

var errUsage = errors.New("usage")

func parseCommand(line string) (command, error) {
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdAppend, text: line}, nil
	}

	name, rest, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "set":
		return command{kind: cmdSet, text: rest}, nil
	case "title":
		if rest == "" {
			return command{}, fmt.Errorf("%w: /title <text>", errUsage)
		}
		return command{kind: cmdTitle, text: rest}, nil
	case "cursor":
		pos, err := strconv.Atoi(rest)
		if err != nil || pos < 0 {
			return command{}, fmt.Errorf("%w: /cursor <position>", errUsage)
		}
		return command{kind: cmdCursor, position: pos}, nil
	case "save":
		return command{kind: cmdSave}, nil
	case "comment":
		if rest == "" {
			return command{}, fmt.Errorf("%w: /comment <text>", errUsage)
		}
		return command{kind: cmdComment, text: rest}, nil
	case "resolve":
		if rest == "" {
			return command{}, fmt.Errorf("%w: /resolve <comment-id>", errUsage)
		}
		return command{kind: cmdResolve, text: rest}, nil
	case "invite":
		email, level, ok := strings.Cut(rest, " ")
		if !ok {
			level = string(domain.PermissionRead)
		}
		switch lvl := domain.PermissionLevel(strings.TrimSpace(level)); lvl {
		case domain.PermissionRead, domain.PermissionWrite, domain.PermissionAdmin:
			if email == "" {
				break
			}
			return command{kind: cmdInvite, text: email, level: lvl}, nil
		}
		return command{}, fmt.Errorf("%w: /invite <email> [read|write|admin]", errUsage)
	case "remove":
		if rest == "" {
			return command{}, fmt.Errorf("%w: /remove <user-id>", errUsage)
		}
		return command{kind: cmdRemove, text: rest}, nil
	case "who":
		return command{kind: cmdWho}, nil
	case "status":
		return command{kind: cmdStatus}, nil
	case "reconnect":
		return command{kind: cmdReconnect}, nil
	case "offline":
		return command{kind: cmdOffline}, nil
	case "online":
		return command{kind: cmdOnline}, nil
	case "quit", "q":
		return command{kind: cmdQuit}, nil
	default:
		return command{}, fmt.Errorf("unknown command /%s", name)
	}
}
