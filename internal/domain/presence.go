package domain

// PresenceEntry is one collaborator currently viewing a note.
type PresenceEntry struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}
