package session

// Session is the authoritative record of one authenticated login. It
// stores only the SHA-256 of the current refresh secret; the secret
// itself exists nowhere but inside the opaque token held by the client.
type Session struct {
	ID            string
	UserID        string
	DeviceID      string
	Role          string
	RefreshHash   [32]byte
	AccessTokenID string
	MFAPending    bool
	CreatedAt     int64
	ExpiresAt     int64
}
