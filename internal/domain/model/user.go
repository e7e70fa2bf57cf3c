package model

// UserInfo is the directory's record for one connected user. It lives
// from session start to session end and is never persisted.
type UserInfo struct {
	SessionID   string
	Nick        string
	Fingerprint string
	Room        string
	JoinedAt    int64 // ms since epoch
}
