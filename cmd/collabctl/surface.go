package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"inkdown-collab/internal/collab"
	"inkdown-collab/internal/connection"
	"inkdown-collab/internal/domain"
)

// surface is the line-oriented editing surface. It owns the text buffer the
// user types into and behaves like a controlled input: a remote change
// rewrites the buffer and reports it back to the editor, which recognises
// the echo and drops it.
type surface struct {
	editor *collab.Editor
	out    io.Writer

	// mu serialises buffer writes with the editor calls that follow them,
	// so the editor never observes a local edit the buffer does not hold.
	mu      sync.Mutex
	title   string
	content string
}

func newSurface(editor *collab.Editor, out io.Writer) *surface {
	return &surface{editor: editor, out: out}
}

func (s *surface) open(ctx context.Context, note domain.Note) {
	s.mu.Lock()
	s.title = note.Title
	s.content = note.Content
	s.mu.Unlock()

	s.editor.Open(ctx, note)

	if note.IsDraft() {
		fmt.Fprintln(s.out, "* editing a new draft")
	} else {
		fmt.Fprintf(s.out, "* editing %q (%s)\n", note.Title, note.ID)
	}
	if note.Content != "" {
		fmt.Fprintln(s.out, note.Content)
	}
}

func (s *surface) render(ctx context.Context) error {
	snapshots, unsubscribe := s.editor.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-snapshots:
			if !ok {
				return nil
			}
			s.sync(ctx)
		}
	}
}

// sync compares the buffer with the editor's current note rather than the
// delivered snapshot, which may already be stale.
func (s *surface) sync(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.editor.Note()

	if current.Title != s.title {
		s.title = current.Title
		fmt.Fprintf(s.out, "~ title: %s\n", current.Title)
		s.editor.OnLocalTitleChange(ctx, current.Title)
	}
	if current.Content != s.content {
		s.content = current.Content
		fmt.Fprintf(s.out, "~ content:\n%s\n", current.Content)
		s.editor.OnLocalContentChange(ctx, current.Content)
	}
}

func (s *surface) execute(ctx context.Context, conn *connection.Manager, cmd command) {
	switch cmd.kind {
	case cmdAppend:
		s.mu.Lock()
		if s.content == "" {
			s.content = cmd.text
		} else {
			s.content += "\n" + cmd.text
		}
		s.editor.OnLocalContentChange(ctx, s.content)
		s.mu.Unlock()

	case cmdSet:
		s.mu.Lock()
		s.content = cmd.text
		s.editor.OnLocalContentChange(ctx, s.content)
		s.mu.Unlock()

	case cmdTitle:
		s.mu.Lock()
		s.title = cmd.text
		s.editor.OnLocalTitleChange(ctx, s.title)
		s.mu.Unlock()

	case cmdCursor:
		s.report(s.editor.SendCursor(ctx, cmd.position, nil), "cursor")

	case cmdSave:
		if err := s.editor.Save(ctx); err != nil {
			fmt.Fprintf(s.out, "! save failed: %v\n", err)
			return
		}
		fmt.Fprintln(s.out, "* saved")

	case cmdComment:
		s.report(s.editor.AddComment(ctx, cmd.text, nil), "comment")

	case cmdResolve:
		s.report(s.editor.ResolveComment(ctx, cmd.text), "resolve")

	case cmdInvite:
		s.report(s.editor.InviteCollaborator(ctx, cmd.text, cmd.level), "invite")

	case cmdRemove:
		s.report(s.editor.RemoveCollaborator(ctx, cmd.text), "remove")

	case cmdWho:
		fmt.Fprintf(s.out, "* online: %s\n", rosterNames(s.editor.ActiveCollaborators()))

	case cmdStatus:
		note := s.editor.Note()
		fmt.Fprintf(s.out, "* note %s: connection %s (attempts %d), save %s, %d comments\n",
			note.ID, conn.State(), conn.Attempts(), s.editor.SaveStatus(), len(note.Comments))
		for _, c := range note.Comments {
			mark := " "
			if c.Resolved {
				mark = "x"
			}
			fmt.Fprintf(s.out, "  [%s] %s %s: %s\n", mark, c.ID, c.UserName, c.Text)
		}

	case cmdReconnect:
		if !conn.Reconnect(ctx) {
			fmt.Fprintln(s.out, "! reconnect failed")
			return
		}
		fmt.Fprintln(s.out, "* reconnected")

	case cmdOffline:
		conn.Disable()
		fmt.Fprintln(s.out, "* sync disabled")

	case cmdOnline:
		if !conn.Enable(ctx) {
			fmt.Fprintln(s.out, "! could not go online")
			return
		}
		fmt.Fprintln(s.out, "* sync enabled")
	}
}

func (s *surface) report(sent bool, what string) {
	if !sent {
		fmt.Fprintf(s.out, "! %s not sent: not connected to the note's room\n", what)
	}
}

func rosterNames(roster []domain.PresenceEntry) string {
	if len(roster) == 0 {
		return "nobody else"
	}
	names := make([]string, 0, len(roster))
	for _, p := range roster {
		name := p.UserName
		if name == "" {
			name = p.UserID
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}
