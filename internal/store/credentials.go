package store

// Credentials is the one-record document backing the agent's own bearer
// token. Default value: empty username, no token.
type Credentials struct {
	Username string  `json:"username"`
	Token    *string `json:"token,omitempty"`
}

// CredentialsStore is a Store[Credentials] with the mode-0600 file
// permission invariant spec.md §3 requires for the credentials file.
type CredentialsStore struct {
	*Store[Credentials]
}

// NewCredentialsStore loads or creates the credentials file at path.
func NewCredentialsStore(path string) (*CredentialsStore, error) {
	s, err := New[Credentials](path)
	if err != nil {
		return nil, err
	}
	return &CredentialsStore{Store: s}, nil
}

// Snapshot returns a copy of the current credentials without holding the
// lock across any blocking call the caller subsequently makes.
func (c *CredentialsStore) Snapshot() Credentials {
	var out Credentials
	c.Read(func(v Credentials) { out = v })
	return out
}
