package domain

// User carries the display attributes supplied by the identity provider.
type User struct {
	ID        string
	Email     string
	Handle    string
	FirstName string
	LastName  string
}
