package domain

// Identity is the authenticated caller of an operation.
type Identity struct {
	UserID string `json:"user_id"`
	Admin  bool   `json:"admin"`
}

// CanAccess reports whether the identity may read or mutate a resource owned
// by the given user.
func (i Identity) CanAccess(owner string) bool {
	return i.Admin || i.UserID == owner
}
