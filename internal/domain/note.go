package domain

import (
	"strings"
	"time"
)

// NewNoteID marks a draft that has not been created on the server yet.
const NewNoteID = "new"

type PermissionLevel string

const (
	PermissionRead  PermissionLevel = "read"
	PermissionWrite PermissionLevel = "write"
	PermissionAdmin PermissionLevel = "admin"
)

type Note struct {
	ID            string         `json:"id"`
	OwnerID       string         `json:"owner_id"`
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	Collaborators []Collaborator `json:"collaborators"`
	Comments      []Comment      `json:"comments"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type Collaborator struct {
	UserID          string          `json:"user_id"`
	UserName        string          `json:"user_name"`
	PermissionLevel PermissionLevel `json:"permission_level"`
	AddedBy         string          `json:"added_by,omitempty"`
	AddedAt         time.Time       `json:"added_at"`
}

type Comment struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	UserName   string     `json:"user_name"`
	Text       string     `json:"text"`
	Position   *int       `json:"position,omitempty"`
	Resolved   bool       `json:"resolved"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsDraft reports whether the note still carries the NewNoteID sentinel or
// has no identity at all.
func (n *Note) IsDraft() bool {
	return n.ID == "" || n.ID == NewNoteID
}

// Clone returns a copy whose slices are not shared with n.
func (n *Note) Clone() Note {
	c := *n
	if n.Collaborators != nil {
		c.Collaborators = append([]Collaborator(nil), n.Collaborators...)
	}
	if n.Comments != nil {
		c.Comments = append([]Comment(nil), n.Comments...)
	}
	return c
}

func (n *Note) HasEmbeddedMedia() bool {
	return strings.Contains(n.Content, "data:image/") || strings.Contains(n.Content, "data:video/")
}

// CollaboratorFor returns the collaborator entry for userID, if any.
func (n *Note) CollaboratorFor(userID string) (*Collaborator, bool) {
	for i := range n.Collaborators {
		if n.Collaborators[i].UserID == userID {
			return &n.Collaborators[i], true
		}
	}
	return nil, false
}

// CanEdit reports whether userID may replace the note's title or content.
func (n *Note) CanEdit(userID string) bool {
	if n.OwnerID == userID {
		return true
	}
	c, ok := n.CollaboratorFor(userID)
	return ok && (c.PermissionLevel == PermissionWrite || c.PermissionLevel == PermissionAdmin)
}

// CanView reports whether userID is the owner or any kind of collaborator.
func (n *Note) CanView(userID string) bool {
	if n.OwnerID == userID {
		return true
	}
	_, ok := n.CollaboratorFor(userID)
	return ok
}

type CreateNoteRequest struct {
	Title   string `json:"title" validate:"max=500"`
	Content string `json:"content"`
}

// UpdateNoteRequest replaces whole fields. Absent fields are left as stored.
type UpdateNoteRequest struct {
	Title   *string `json:"title" validate:"omitempty,max=500"`
	Content *string `json:"content"`
}

type NoteResponse struct {
	ID            string         `json:"id"`
	OwnerID       string         `json:"owner_id"`
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	Collaborators []Collaborator `json:"collaborators"`
	Comments      []Comment      `json:"comments"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func NewNoteResponse(n *Note) *NoteResponse {
	return &NoteResponse{
		ID:            n.ID,
		OwnerID:       n.OwnerID,
		Title:         n.Title,
		Content:       n.Content,
		Collaborators: n.Collaborators,
		Comments:      n.Comments,
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.UpdatedAt,
	}
}

// ToNote converts a server response back into the client-side model.
func (r *NoteResponse) ToNote() Note {
	return Note{
		ID:            r.ID,
		OwnerID:       r.OwnerID,
		Title:         r.Title,
		Content:       r.Content,
		Collaborators: r.Collaborators,
		Comments:      r.Comments,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type InviteCollaboratorRequest struct {
	Email           string          `json:"email" validate:"required,email"`
	PermissionLevel PermissionLevel `json:"permission_level" validate:"required,oneof=read write admin"`
}
